//go:build integration

package redis_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	redisstore "github.com/xraph/courier/store/redis"
)

// setupTestStore starts a Redis container and returns a connected Store
// and its client.
func setupTestStore(t *testing.T) (*redisstore.Store, *goredis.Client) {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := redisstore.New(client, redisstore.WithLogger(slog.Default()))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s, client
}

func newJob(topic string) *job.Job {
	return job.New(topic, []byte(`{"email":"a@example.com"}`), job.Options{MaxRetries: 3})
}

func TestStore_Ping(t *testing.T) {
	s, _ := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_EnqueueClaimComplete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	wid := id.NewWorkerID()

	first, second := newJob("email"), newJob("email")
	for _, j := range []*job.Job{first, second} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, first); !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.ClaimJob(ctx, "email", wid, time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if got == nil || got.ID.String() != first.ID.String() {
		t.Fatalf("claimed %v, want %s", got, first.ID)
	}
	if got.State != job.StateActive || got.Attempts != 1 {
		t.Errorf("claimed state=%q attempts=%d", got.State, got.Attempts)
	}
	if got.ClaimedBy.String() != wid.String() {
		t.Errorf("ClaimedBy = %s, want %s", got.ClaimedBy, wid)
	}

	if other, err := s.ClaimJob(ctx, "sms", wid, time.Minute); err != nil || other != nil {
		t.Fatalf("ClaimJob(sms) = %v, %v; want nil, nil", other, err)
	}

	if err := s.CompleteJob(ctx, got); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, first.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("GetJob after complete = %v, want ErrJobNotFound", err)
	}
	if err := s.CompleteJob(ctx, got); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("second CompleteJob = %v, want ErrLeaseLost", err)
	}

	n, err := s.CountJobs(ctx, job.CountOpts{Topic: "email"})
	if err != nil || n != 1 {
		t.Fatalf("CountJobs = %d, %v; want 1", n, err)
	}
}

func TestStore_LeaseExpiryAndStaleAck(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	stale, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), 50*time.Millisecond)
	if err != nil || stale == nil {
		t.Fatalf("ClaimJob = %v, %v", stale, err)
	}
	if again, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute); again != nil {
		t.Fatal("leased job claimed twice")
	}

	time.Sleep(100 * time.Millisecond)

	fresh, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || fresh == nil {
		t.Fatalf("reclaim = %v, %v", fresh, err)
	}
	if fresh.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", fresh.Attempts)
	}

	if err := s.CompleteJob(ctx, stale); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale CompleteJob = %v, want ErrLeaseLost", err)
	}
	if err := s.ExtendLease(ctx, fresh, time.Minute); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if err := s.CompleteJob(ctx, fresh); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestStore_RetryHidesUntilVisible(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}

	claimed.LastError = "smtp: connection refused"
	visibleAt := time.Now().Add(150 * time.Millisecond)
	if err := s.RetryJob(ctx, claimed, visibleAt); err != nil {
		t.Fatalf("RetryJob: %v", err)
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

	time.Sleep(200 * time.Millisecond)

	got, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || got == nil {
		t.Fatalf("ClaimJob after backoff = %v, %v", got, err)
	}
	if got.Attempts != 2 || got.LastError != "smtp: connection refused" {
		t.Errorf("attempts=%d last_error=%q", got.Attempts, got.LastError)
	}
}

func TestStore_DeadLetterAndDLQ(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}

	stale := claimed.Clone()
	stale.Attempts = 7
	if err := s.DeadLetterJob(ctx, stale, dlq.NewEntry(stale, errors.New("boom"), true)); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale DeadLetterJob = %v, want ErrLeaseLost", err)
	}
	if n, _ := s.CountDLQ(ctx, ""); n != 0 {
		t.Fatalf("CountDLQ after stale dead-letter = %d, want 0", n)
	}

	entry := dlq.NewEntry(claimed, errors.New("invalid payload"), true)
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
	if got.JobID.String() != claimed.ID.String() || !got.Permanent || got.Error != "invalid payload" {
		t.Errorf("entry = %+v", got)
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{Topic: "email"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDLQ = %d entries, %v", len(list), err)
	}
	if n, _ := s.CountDLQ(ctx, "email"); n != 1 {
		t.Errorf("CountDLQ(email) = %d, want 1", n)
	}

	if err := s.ReplayDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if got, _ := s.GetDLQ(ctx, entry.ID); got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}

	purged, err := s.PurgeDLQ(ctx, time.Now().Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDLQ = %d, %v; want 1", purged, err)
	}
}

func TestStore_Users(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	u := &account.User{
		ID:           id.NewUserID(),
		Email:        "alice@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	dup := *u
	dup.ID = id.NewUserID()
	if err := s.CreateUser(ctx, &dup); !errors.Is(err, courier.ErrUserExists) {
		t.Fatalf("duplicate CreateUser = %v, want ErrUserExists", err)
	}

	got, err := s.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID.String() != u.ID.String() || got.PasswordHash != "hash" {
		t.Errorf("got %+v", got)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, courier.ErrUserNotFound) {
		t.Fatalf("unknown email = %v, want ErrUserNotFound", err)
	}
}

func TestNotifier_CrossClient(t *testing.T) {
	_, client := setupTestStore(t)
	ctx := context.Background()

	n := redisstore.NewNotifier(client, slog.Default())
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })

	ch, unsubscribe := n.Subscribe("email")
	defer unsubscribe()

	publisher := redisstore.NewNotifier(client, slog.Default())
	if err := publisher.Notify(ctx, "email"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}
}

func TestElector_Leadership(t *testing.T) {
	_, client := setupTestStore(t)
	ctx := context.Background()
	e := redisstore.NewElector(client)
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	if ok, err := e.AcquireLeadership(ctx, w1, time.Minute); err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := e.AcquireLeadership(ctx, w2, time.Minute); err != nil || ok {
		t.Fatalf("w2 acquire while held: ok=%v err=%v", ok, err)
	}
	if ok, err := e.RenewLeadership(ctx, w2, time.Minute); err != nil || ok {
		t.Fatalf("w2 renew: ok=%v err=%v", ok, err)
	}
	if ok, err := e.RenewLeadership(ctx, w1, time.Minute); err != nil || !ok {
		t.Fatalf("w1 renew: ok=%v err=%v", ok, err)
	}

	leader, err := e.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader != w1.String() {
		t.Errorf("leader: got %q, want %q", leader, w1.String())
	}

	if err := e.ReleaseLeadership(ctx, w1); err != nil {
		t.Fatalf("ReleaseLeadership: %v", err)
	}
	if ok, err := e.AcquireLeadership(ctx, w2, time.Minute); err != nil || !ok {
		t.Fatalf("w2 acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestElector_LeaseExpires(t *testing.T) {
	_, client := setupTestStore(t)
	ctx := context.Background()
	e := redisstore.NewElector(client)

	if ok, err := e.AcquireLeadership(ctx, id.NewWorkerID(), 200*time.Millisecond); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(400 * time.Millisecond)

	if ok, err := e.AcquireLeadership(ctx, id.NewWorkerID(), time.Minute); err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}
