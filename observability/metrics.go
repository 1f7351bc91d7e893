package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skillsenselab/voxpipe/job"
)

// Metrics holds the queue's metric instruments.
type Metrics struct {
	jobsTotal        metric.Int64Counter
	jobDuration      metric.Float64Histogram
	providerAttempts metric.Int64Counter
	activeRuns       metric.Int64UpDownCounter
}

// NewMetrics creates the metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	jobsTotal, err := meter.Int64Counter("voxpipe.jobs.total",
		metric.WithDescription("Jobs reaching a terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voxpipe.jobs.total counter: %w", err)
	}

	jobDuration, err := meter.Float64Histogram("voxpipe.job.duration",
		metric.WithDescription("Wall-clock job processing time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voxpipe.job.duration histogram: %w", err)
	}

	providerAttempts, err := meter.Int64Counter("voxpipe.provider.attempts",
		metric.WithDescription("Transcription runs by provider and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voxpipe.provider.attempts counter: %w", err)
	}

	activeRuns, err := meter.Int64UpDownCounter("voxpipe.jobs.active",
		metric.WithDescription("Jobs currently converting or transcribing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voxpipe.jobs.active gauge: %w", err)
	}

	return &Metrics{
		jobsTotal:        jobsTotal,
		jobDuration:      jobDuration,
		providerAttempts: providerAttempts,
		activeRuns:       activeRuns,
	}, nil
}

// JobRecorder derives queue metrics from job events. It implements
// job.Publisher and combines with the SSE bridge through job.MultiPublisher.
type JobRecorder struct {
	metrics *Metrics

	mu      sync.Mutex
	started map[string]time.Time
}

var _ job.Publisher = (*JobRecorder)(nil)

// NewJobRecorder creates a recorder feeding the given metrics.
func NewJobRecorder(m *Metrics) *JobRecorder {
	return &JobRecorder{
		metrics: m,
		started: make(map[string]time.Time),
	}
}

// Publish implements job.Publisher. It never blocks.
func (r *JobRecorder) Publish(ev job.Event) {
	if ev.Type == job.EventProgress {
		return
	}
	ctx := context.Background()

	switch ev.Job.Status {
	case job.StatusConverting:
		r.mu.Lock()
		if _, running := r.started[ev.Job.ID]; !running {
			r.started[ev.Job.ID] = ev.Timestamp
			r.metrics.activeRuns.Add(ctx, 1)
		}
		r.mu.Unlock()

	case job.StatusCompleted, job.StatusFailed:
		r.mu.Lock()
		startedAt, running := r.started[ev.Job.ID]
		delete(r.started, ev.Job.ID)
		r.mu.Unlock()

		statusAttr := metric.WithAttributes(attribute.String("status", string(ev.Job.Status)))
		r.metrics.jobsTotal.Add(ctx, 1, statusAttr)

		if running {
			r.metrics.activeRuns.Add(ctx, -1)
			r.metrics.jobDuration.Record(ctx, ev.Timestamp.Sub(startedAt).Seconds(), statusAttr)
		}

		if ev.Job.Provider != "" {
			outcome := "success"
			if ev.Job.Status == job.StatusFailed {
				outcome = ev.Job.ErrorKind
				if outcome == "" {
					outcome = "failed"
				}
			}
			r.metrics.providerAttempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", ev.Job.Provider),
				attribute.String("outcome", outcome),
			))
		}
	}
}
