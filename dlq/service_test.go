package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier"
	courierDLQ "github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store/memory"
)

// deadLetter enqueues, claims, and dead-letters one job, returning the
// entry written.
func deadLetter(t *testing.T, s *memory.Store, payload string, jobErr error) *courierDLQ.Entry {
	t.Helper()
	ctx := context.Background()

	j := job.New("email", []byte(payload), job.Options{MaxRetries: 3})
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob: %v, %v", claimed, err)
	}
	claimed.LastError = jobErr.Error()

	entry := courierDLQ.NewEntry(claimed, jobErr, courier.IsPermanent(jobErr))
	if err := s.DeadLetterJob(ctx, claimed, entry); err != nil {
		t.Fatalf("DeadLetterJob: %v", err)
	}
	return entry
}

func TestNewEntry_BuildsFromJob(t *testing.T) {
	s := memory.New()
	entry := deadLetter(t, s, `{"email":"alice@example.com"}`, courier.Permanent(errors.New("no recipient")))

	got, err := s.GetDLQ(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Topic != "email" {
		t.Errorf("Topic = %q, want %q", got.Topic, "email")
	}
	if string(got.Payload) != `{"email":"alice@example.com"}` {
		t.Errorf("Payload = %q", got.Payload)
	}
	if got.Error != "courier: permanent: no recipient" {
		t.Errorf("Error = %q", got.Error)
	}
	if !got.Permanent {
		t.Error("Permanent = false, want true")
	}
	if got.Attempts != 1 || got.MaxRetries != 3 {
		t.Errorf("Attempts = %d, MaxRetries = %d", got.Attempts, got.MaxRetries)
	}
	if got.FailedAt.IsZero() || got.EnqueuedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if got.ReplayedAt != nil {
		t.Error("ReplayedAt should be nil before replay")
	}
}

func TestService_Replay_CreatesNewPendingJob(t *testing.T) {
	s := memory.New()
	q := queue.New(s, s)
	svc := courierDLQ.NewService(s, q)
	ctx := context.Background()

	entry := deadLetter(t, s, `{"email":"bob@example.com"}`, errors.New("smtp timeout"))

	j, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if j.ID == entry.JobID {
		t.Fatal("replayed job must get a fresh ID")
	}

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != job.StatePending || stored.Attempts != 0 {
		t.Errorf("state=%q attempts=%d, want pending/0", stored.State, stored.Attempts)
	}
	if stored.Topic != "email" || string(stored.Payload) != `{"email":"bob@example.com"}` {
		t.Errorf("topic=%q payload=%q", stored.Topic, stored.Payload)
	}
	if stored.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", stored.MaxRetries)
	}

	// The replayed job is immediately claimable.
	claimed, err := q.TryPop(ctx, "email", id.NewWorkerID())
	if err != nil || claimed == nil || claimed.ID != j.ID {
		t.Fatalf("TryPop after replay = %v, %v", claimed, err)
	}

	e, _ := s.GetDLQ(ctx, entry.ID)
	if e.ReplayedAt == nil {
		t.Error("ReplayedAt not set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := courierDLQ.NewService(s, queue.New(s, s))

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, courier.ErrDLQNotFound) {
		t.Fatalf("Replay unknown = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := courierDLQ.NewService(s, queue.New(s, s))
	ctx := context.Background()

	deadLetter(t, s, `{}`, errors.New("a"))
	deadLetter(t, s, `{}`, errors.New("b"))

	n, err := svc.Purge(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("Purge(1h) = %d, %v; want 0", n, err)
	}

	n, err = svc.Purge(ctx, -time.Second)
	if err != nil || n != 2 {
		t.Fatalf("Purge(all) = %d, %v; want 2", n, err)
	}
	if c, _ := svc.DLQStore().CountDLQ(ctx, ""); c != 0 {
		t.Fatalf("CountDLQ = %d, want 0", c)
	}
}
