package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Topic:      "email",
		Payload:    json.RawMessage(`{"email":"a@example.com"}`),
		State:      job.StateActive,
		Attempts:   2,
		MaxRetries: 3,
		ClaimedBy:  id.NewWorkerID(),
	}
}

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceJob {
		t.Errorf("Resource: want %q, got %q", ah.ResourceJob, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("want info/success, got %s/%s", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["topic"] != "email" {
		t.Errorf("topic metadata: got %v", evt.Metadata["topic"])
	}
	if evt.Metadata["max_retries"] != 3 {
		t.Errorf("max_retries metadata: got %v", evt.Metadata["max_retries"])
	}
}

func TestExtension_JobStartedAndCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
	if got := rec.last().Metadata["worker_id"]; got != j.ClaimedBy.String() {
		t.Errorf("worker_id: want %q, got %v", j.ClaimedBy.String(), got)
	}

	if err := e.OnJobCompleted(ctx, j, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed_ms: want 1500, got %v", evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := e.OnJobRetrying(context.Background(), newTestJob(), 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("attempt: want 2, got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("next_run_at: got %v", evt.Metadata["next_run_at"])
	}
}

func TestExtension_TerminalFailuresAreCritical(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()
	cause := errors.New("smtp: connection refused")

	if err := e.OnJobFailed(ctx, j, cause); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobDLQ(ctx, j, cause); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}

	for _, evt := range rec.events {
		if evt.Severity != ah.SeverityCritical {
			t.Errorf("%s: Severity want %q, got %q", evt.Action, ah.SeverityCritical, evt.Severity)
		}
		if evt.Outcome != ah.OutcomeFailure {
			t.Errorf("%s: Outcome want %q, got %q", evt.Action, ah.OutcomeFailure, evt.Outcome)
		}
		if evt.Reason != cause.Error() {
			t.Errorf("%s: Reason want %q, got %q", evt.Action, cause.Error(), evt.Reason)
		}
		if evt.Metadata["error"] != cause.Error() {
			t.Errorf("%s: error metadata: got %v", evt.Action, evt.Metadata["error"])
		}
	}
	if rec.count() != 2 {
		t.Fatalf("expected 2 events, got %d", rec.count())
	}
}

func TestExtension_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobDLQ))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	if rec.count() != 0 {
		t.Fatalf("expected filtered actions to be skipped, got %d events", rec.count())
	}

	_ = e.OnJobDLQ(ctx, j, errors.New("boom"))
	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
}

func TestExtension_WithTopicsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithTopics("email"))
	ctx := context.Background()

	other := newTestJob()
	other.Topic = "sms"
	_ = e.OnJobEnqueued(ctx, other)
	if rec.count() != 0 {
		t.Fatalf("expected sms job to be skipped, got %d events", rec.count())
	}

	_ = e.OnJobEnqueued(ctx, newTestJob())
	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := ah.New(failing, ah.WithLogger(logger))

	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Errorf("expected recorder failure to be logged, got %q", buf.String())
	}
}

func TestExtension_RegistersWithRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	reg.EmitJobEnqueued(context.Background(), newTestJob())
	if rec.count() != 1 {
		t.Fatalf("expected registry to dispatch to audit hook, got %d events", rec.count())
	}
}

func TestSlogRecorder_LevelsBySeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := ah.New(ah.NewSlogRecorder(logger))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobCompleted(ctx, j, time.Millisecond)
	_ = e.OnJobRetrying(ctx, j, 1, time.Now())
	_ = e.OnJobDLQ(ctx, j, errors.New("bad payload"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %q", len(lines), buf.String())
	}
	wantLevels := []string{"INFO", "WARN", "ERROR"}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if rec["level"] != wantLevels[i] {
			t.Errorf("line %d: level want %s, got %v", i, wantLevels[i], rec["level"])
		}
		if rec["resource_id"] != j.ID.String() {
			t.Errorf("line %d: resource_id want %s, got %v", i, j.ID.String(), rec["resource_id"])
		}
	}
}
