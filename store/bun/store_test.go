//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	bunstore "github.com/xraph/courier/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("courier_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	// Create Bun DB from pgdriver.
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(topic string) *job.Job {
	return job.New(topic, []byte(`{"email":"a@example.com"}`), job.Options{MaxRetries: 3})
}

func TestJobStore_EnqueueClaimComplete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, second := newJob("email"), newJob("email")
	for _, j := range []*job.Job{first, second} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, first); !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue = %v, want ErrJobAlreadyExists", err)
	}

	wid := id.NewWorkerID()
	got, err := s.ClaimJob(ctx, "email", wid, time.Minute)
	if err != nil || got == nil {
		t.Fatalf("ClaimJob = %v, %v", got, err)
	}
	if got.ID.String() != first.ID.String() {
		t.Fatalf("claimed %s, want %s", got.ID, first.ID)
	}
	if got.Attempts != 1 || got.State != job.StateActive || got.ClaimedBy.String() != wid.String() {
		t.Errorf("claimed job = %+v", got)
	}

	if err := s.CompleteJob(ctx, got); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.CompleteJob(ctx, got); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("second CompleteJob = %v, want ErrLeaseLost", err)
	}

	jobs, err := s.ListJobs(ctx, job.ListOpts{Topic: "email"})
	if err != nil || len(jobs) != 1 || jobs[0].ID.String() != second.ID.String() {
		t.Fatalf("ListJobs = %v, %v", jobs, err)
	}
	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if err != nil || n != 1 {
		t.Fatalf("CountJobs = %d, %v; want 1", n, err)
	}
}

func TestJobStore_RetryAndExtend(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}

	if err := s.ExtendLease(ctx, claimed, 2*time.Minute); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}

	claimed.LastError = "smtp: 421"
	visibleAt := time.Now().Add(time.Hour)
	if err := s.RetryJob(ctx, claimed, visibleAt); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if err := s.ExtendLease(ctx, claimed, time.Minute); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("ExtendLease after retry = %v, want ErrLeaseLost", err)
	}

	if got, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute); got != nil {
		t.Fatal("claimed a job before its backoff elapsed")
	}

	at, ok, err := s.NextVisibleAt(ctx, "email")
	if err != nil || !ok {
		t.Fatalf("NextVisibleAt = %v, %v, %v", at, ok, err)
	}
	if d := at.Sub(visibleAt); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("NextVisibleAt = %v, want %v", at, visibleAt)
	}

	got, err := s.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.LastError != "smtp: 421" {
		t.Errorf("after retry: %+v", got)
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func TestDLQStore_DeadLetterAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}

	stale := claimed.Clone()
	stale.Attempts = 9
	if err := s.DeadLetterJob(ctx, stale, dlq.NewEntry(stale, errors.New("x"), true)); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale DeadLetterJob = %v, want ErrLeaseLost", err)
	}

	entry := dlq.NewEntry(claimed, errors.New("bad payload"), true)
	if err := s.DeadLetterJob(ctx, claimed, entry); err != nil {
		t.Fatalf("DeadLetterJob: %v", err)
	}
	if _, err := s.GetJob(ctx, claimed.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("GetJob after dead-letter = %v, want ErrJobNotFound", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if !got.Permanent || got.Error != "bad payload" {
		t.Errorf("entry = %+v", got)
	}
	if n, _ := s.CountDLQ(ctx, "email"); n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}

	if err := s.ReplayDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	purged, err := s.PurgeDLQ(ctx, time.Now().Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDLQ = %d, %v; want 1", purged, err)
	}
}

// ──────────────────────────────────────────────────
// Account Store tests
// ──────────────────────────────────────────────────

func TestAccountStore_Users(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		u := &account.User{
			ID:           id.NewUserID(),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: "hash",
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	dup := &account.User{ID: id.NewUserID(), Email: "user0@example.com", PasswordHash: "x", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, courier.ErrUserExists) {
		t.Fatalf("duplicate CreateUser = %v, want ErrUserExists", err)
	}

	got, err := s.GetUserByEmail(ctx, "user1@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	byID, err := s.GetUser(ctx, got.ID)
	if err != nil || byID.Email != "user1@example.com" {
		t.Fatalf("GetUser = %+v, %v", byID, err)
	}
	if _, err := s.GetUser(ctx, id.NewUserID()); !errors.Is(err, courier.ErrUserNotFound) {
		t.Fatalf("unknown user = %v, want ErrUserNotFound", err)
	}
}

func TestNotifier_ListenNotify(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := s.Notifier()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })

	ch, unsubscribe := n.Subscribe("email")
	defer unsubscribe()

	if err := n.Notify(ctx, "email"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}
}
