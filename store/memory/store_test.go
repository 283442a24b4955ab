package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}

	if err := s.Ping(ctx); !errors.Is(err, courier.ErrStoreClosed) {
		t.Fatalf("Ping after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.EnqueueJob(ctx, newJob("email")); !errors.Is(err, courier.ErrStoreClosed) {
		t.Fatalf("EnqueueJob after Close = %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(topic string) *job.Job {
	return job.New(topic, []byte(`{"email":"a@example.com"}`), job.Options{MaxRetries: 3})
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("email")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Topic != "email" || got.State != job.StatePending {
		t.Fatalf("got topic=%q state=%q", got.Topic, got.State)
	}

	// Mutating the returned copy must not touch the store.
	got.State = job.StateFailed
	again, _ := s.GetJob(ctx, j.ID)
	if again.State != job.StatePending {
		t.Fatalf("store aliased returned job: state=%q", again.State)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimJob_FIFOAndTopicIsolation(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	w := id.NewWorkerID()

	var want []id.JobID
	for i := 0; i < 5; i++ {
		j := newJob("email")
		want = append(want, j.ID)
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		if err := s.EnqueueJob(ctx, newJob("sms")); err != nil {
			t.Fatal(err)
		}
	}

	for i, wantID := range want {
		got, err := s.ClaimJob(ctx, "email", w, time.Minute)
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		if got == nil {
			t.Fatalf("claim %d: got nil job", i)
		}
		if got.ID != wantID {
			t.Fatalf("claim %d: got %s, want %s", i, got.ID, wantID)
		}
		if got.Topic != "email" {
			t.Fatalf("claim %d: got topic %q", i, got.Topic)
		}
		if got.State != job.StateActive || got.Attempts != 1 || got.ClaimedBy != w {
			t.Fatalf("claim %d: state=%q attempts=%d claimedBy=%s", i, got.State, got.Attempts, got.ClaimedBy)
		}
	}

	got, err := s.ClaimJob(ctx, "email", w, time.Minute)
	if err != nil || got != nil {
		t.Fatalf("ClaimJob on drained topic = %v, %v; want nil, nil", got, err)
	}
}

func TestClaimJob_SkipsInvisible(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	delayed := job.New("email", nil, job.Options{Delay: time.Hour})
	if err := s.EnqueueJob(ctx, delayed); err != nil {
		t.Fatal(err)
	}

	got, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || got != nil {
		t.Fatalf("claimed a delayed job: %v, %v", got, err)
	}

	at, ok, err := s.NextVisibleAt(ctx, "email")
	if err != nil || !ok {
		t.Fatalf("NextVisibleAt = %v, %v, %v", at, ok, err)
	}
	if !at.Equal(delayed.VisibleAt) {
		t.Fatalf("NextVisibleAt = %v, want %v", at, delayed.VisibleAt)
	}

	if _, ok, _ := s.NextVisibleAt(ctx, "sms"); ok {
		t.Fatal("NextVisibleAt reported a job for an empty topic")
	}
}

func TestLeaseExpiryAllowsReclaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("email")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), 20*time.Millisecond)
	if err != nil || first == nil {
		t.Fatalf("first claim: %v, %v", first, err)
	}

	if got, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute); got != nil {
		t.Fatal("claimed a job whose lease is still held")
	}

	time.Sleep(40 * time.Millisecond)

	second, err := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)
	if err != nil || second == nil {
		t.Fatalf("reclaim after expiry: %v, %v", second, err)
	}
	if second.ID != j.ID || second.Attempts != 2 {
		t.Fatalf("reclaim got id=%s attempts=%d", second.ID, second.Attempts)
	}

	// The first holder's lease is gone.
	if err := s.CompleteJob(ctx, first); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale CompleteJob = %v, want ErrLeaseLost", err)
	}
	if err := s.RetryJob(ctx, first, time.Now()); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale RetryJob = %v, want ErrLeaseLost", err)
	}
	if err := s.ExtendLease(ctx, first, time.Minute); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale ExtendLease = %v, want ErrLeaseLost", err)
	}

	// The second holder is unaffected.
	if err := s.CompleteJob(ctx, second); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("completed job still stored: %v", err)
	}
}

func TestRetryJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatal(err)
	}
	claimed, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)

	claimed.LastError = "smtp timeout"
	if err := s.RetryJob(ctx, claimed, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}

	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StatePending || got.LastError != "smtp timeout" || !got.ClaimedBy.IsNil() {
		t.Fatalf("after retry: state=%q lastError=%q claimedBy=%s", got.State, got.LastError, got.ClaimedBy)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if again, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute); again != nil {
		t.Fatal("claimed a job before its backoff elapsed")
	}
}

func TestExtendLease(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
		t.Fatal(err)
	}
	claimed, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), 30*time.Millisecond)

	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		if err := s.ExtendLease(ctx, claimed, 30*time.Millisecond); err != nil {
			t.Fatalf("ExtendLease: %v", err)
		}
	}

	if got, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute); got != nil {
		t.Fatal("claimed a job whose lease was being extended")
	}
}

func TestListAndCountJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	var ids []id.JobID
	for i := 0; i < 4; i++ {
		j := newJob("email")
		ids = append(ids, j.ID)
		_ = s.EnqueueJob(ctx, j)
	}
	_ = s.EnqueueJob(ctx, newJob("sms"))
	_, _ = s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)

	page, err := s.ListJobs(ctx, job.ListOpts{Topic: "email", Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Fatalf("unexpected page: %+v", page)
	}

	n, _ := s.CountJobs(ctx, job.CountOpts{Topic: "email", State: job.StatePending})
	if n != 3 {
		t.Fatalf("pending email count = %d, want 3", n)
	}
	n, _ = s.CountJobs(ctx, job.CountOpts{State: job.StateActive})
	if n != 1 {
		t.Fatalf("active count = %d, want 1", n)
	}
	n, _ = s.CountJobs(ctx, job.CountOpts{})
	if n != 5 {
		t.Fatalf("total count = %d, want 5", n)
	}
}

// TestClaimJob_NoDoubleClaim runs N workers against M jobs with random
// retries and checks that no job is ever held by two workers at once and
// every job completes exactly once.
func TestClaimJob_NoDoubleClaim(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ workers, jobs int }{
		{2, 50}, {8, 200}, {32, 500},
	} {
		t.Run(fmt.Sprintf("%dx%d", tc.workers, tc.jobs), func(t *testing.T) {
			s := New()
			ctx := context.Background()

			for i := 0; i < tc.jobs; i++ {
				if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
					t.Fatal(err)
				}
			}

			var (
				mu        sync.Mutex
				holders   = make(map[id.JobID]id.WorkerID)
				completed = make(map[id.JobID]int)
				conflicts atomic.Int64
				done      atomic.Int64
				wg        sync.WaitGroup
			)

			for w := 0; w < tc.workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					workerID := id.NewWorkerID()
					deadline := time.Now().Add(10 * time.Second)

					for done.Load() < int64(tc.jobs) && time.Now().Before(deadline) {
						j, err := s.ClaimJob(ctx, "email", workerID, time.Minute)
						if err != nil {
							t.Errorf("ClaimJob: %v", err)
							return
						}
						if j == nil {
							time.Sleep(time.Millisecond)
							continue
						}

						mu.Lock()
						if _, held := holders[j.ID]; held {
							conflicts.Add(1)
						}
						holders[j.ID] = workerID
						mu.Unlock()

						if rand.IntN(8) == 0 {
							time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
						}

						// Release bookkeeping before the store call: the
						// lease is still ours until the store says otherwise.
						mu.Lock()
						delete(holders, j.ID)
						mu.Unlock()

						if rand.IntN(4) == 0 {
							if err := s.RetryJob(ctx, j, time.Now()); err != nil {
								t.Errorf("RetryJob: %v", err)
							}
							continue
						}
						if err := s.CompleteJob(ctx, j); err != nil {
							t.Errorf("CompleteJob: %v", err)
							continue
						}
						mu.Lock()
						completed[j.ID]++
						mu.Unlock()
						done.Add(1)
					}
				}()
			}
			wg.Wait()

			if n := conflicts.Load(); n != 0 {
				t.Fatalf("%d double claims: %v", n, courier.ErrClaimConflict)
			}
			if len(completed) != tc.jobs {
				t.Fatalf("completed %d distinct jobs, want %d", len(completed), tc.jobs)
			}
			for jobID, n := range completed {
				if n != 1 {
					t.Fatalf("job %s completed %d times", jobID, n)
				}
			}
			if left, _ := s.CountJobs(ctx, job.CountOpts{}); left != 0 {
				t.Fatalf("%d jobs left in store", left)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func TestDeadLetterJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("email")
	_ = s.EnqueueJob(ctx, j)
	claimed, _ := s.ClaimJob(ctx, "email", id.NewWorkerID(), time.Minute)

	entry := dlq.NewEntry(claimed, errors.New("bad payload"), true)
	if err := s.DeadLetterJob(ctx, claimed, entry); err != nil {
		t.Fatalf("DeadLetterJob: %v", err)
	}

	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("dead-lettered job still queued: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.JobID != j.ID || got.Error != "bad payload" || !got.Permanent || got.Attempts != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}

	// A second attempt with the same (now stale) lease writes nothing.
	dup := dlq.NewEntry(claimed, errors.New("again"), false)
	if err := s.DeadLetterJob(ctx, claimed, dup); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale DeadLetterJob = %v, want ErrLeaseLost", err)
	}
	if n, _ := s.CountDLQ(ctx, ""); n != 1 {
		t.Fatalf("CountDLQ = %d, want 1", n)
	}
}

func TestDLQListReplayPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	var entries []*dlq.Entry
	for i, topic := range []string{"email", "sms", "email"} {
		j := newJob(topic)
		_ = s.EnqueueJob(ctx, j)
		claimed, _ := s.ClaimJob(ctx, topic, id.NewWorkerID(), time.Minute)
		e := dlq.NewEntry(claimed, fmt.Errorf("failure %d", i), false)
		e.FailedAt = time.Now().UTC().Add(time.Duration(i-10) * time.Hour)
		if err := s.DeadLetterJob(ctx, claimed, e); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}

	list, _ := s.ListDLQ(ctx, dlq.ListOpts{Topic: "email"})
	if len(list) != 2 || list[0].ID != entries[0].ID || list[1].ID != entries[2].ID {
		t.Fatalf("unexpected email DLQ list: %+v", list)
	}
	if n, _ := s.CountDLQ(ctx, "sms"); n != 1 {
		t.Fatalf("CountDLQ(sms) = %d, want 1", n)
	}

	if err := s.ReplayDLQ(ctx, entries[1].ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, _ := s.GetDLQ(ctx, entries[1].ID)
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt not set")
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, courier.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ unknown = %v, want ErrDLQNotFound", err)
	}

	purged, _ := s.PurgeDLQ(ctx, time.Now().UTC().Add(-9*time.Hour+time.Minute))
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}
	if n, _ := s.CountDLQ(ctx, ""); n != 1 {
		t.Fatalf("CountDLQ after purge = %d, want 1", n)
	}
}

// ──────────────────────────────────────────────────
// Account Store tests
// ──────────────────────────────────────────────────

func TestUsers(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	u := &account.User{ID: id.NewUserID(), Email: "a@example.com", PasswordHash: "x", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := &account.User{ID: id.NewUserID(), Email: "a@example.com"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, courier.ErrUserExists) {
		t.Fatalf("duplicate CreateUser = %v, want ErrUserExists", err)
	}

	byID, err := s.GetUser(ctx, u.ID)
	if err != nil || byID.Email != u.Email {
		t.Fatalf("GetUser = %+v, %v", byID, err)
	}
	byEmail, err := s.GetUserByEmail(ctx, "a@example.com")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", byEmail, err)
	}
	if _, err := s.GetUserByEmail(ctx, "b@example.com"); !errors.Is(err, courier.ErrUserNotFound) {
		t.Fatalf("GetUserByEmail unknown = %v, want ErrUserNotFound", err)
	}
}
