package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils MetricFactory.
// Register it as an extension to track enqueue rates, deliveries,
// completions, failures, retries and DLQ entries.
type MetricsExtension struct {
	JobEnqueued  gu.Counter
	JobStarted   gu.Counter
	JobRedeliver gu.Counter
	JobCompleted gu.Counter
	JobFailed    gu.Counter
	JobRetried   gu.Counter
	JobDLQ       gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("courier/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Use fapp.Metrics() in forge extensions, or gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:  factory.Counter("courier.job.enqueued"),
		JobStarted:   factory.Counter("courier.job.started"),
		JobRedeliver: factory.Counter("courier.job.redelivered"),
		JobCompleted: factory.Counter("courier.job.completed"),
		JobFailed:    factory.Counter("courier.job.failed"),
		JobRetried:   factory.Counter("courier.job.retried"),
		JobDLQ:       factory.Counter("courier.job.dlq"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	m.JobEnqueued.Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted. Any attempt after the first is
// also counted as a redelivery.
func (m *MetricsExtension) OnJobStarted(_ context.Context, j *job.Job) error {
	m.JobStarted.Inc()
	if j.Attempts > 1 {
		m.JobRedeliver.Inc()
	}
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Inc()
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(_ context.Context, _ *job.Job, _ error) error {
	m.JobDLQ.Inc()
	return nil
}
