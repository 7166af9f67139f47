package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"transcript-client/internal/domain"
)

const (
	pollInterval = 2 * time.Second
	pollCeiling  = 10 * time.Minute
)

// ErrPollingTimeout is reported when the polling ceiling elapses without a
// terminal status. It is the only observation failure surfaced to callers:
// by the time polling runs, the realtime channel has already been given up.
var ErrPollingTimeout = errors.New("polling ceiling reached without terminal status")

// StatusFetcher looks up the authoritative job state. *api.Client satisfies it.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (domain.Job, error)
}

// PollerConfig carries the dependencies for one polling loop.
type PollerConfig struct {
	JobID   string
	Fetcher StatusFetcher
	OnFact  FactFunc
	OnError ErrorFunc
	Logger  *slog.Logger

	// Overridable in tests; zero values use the production constants.
	Interval time.Duration
	Ceiling  time.Duration
}

// Poller queries job status on a fixed interval and feeds the same callback
// surface as Channel, so the observer can swap mechanisms transparently.
type Poller struct {
	cfg    PollerConfig
	logger *slog.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// StartPoller begins the polling loop. The first query runs after one
// interval; the loop stops on a terminal fact, on Close, or when the ceiling
// elapses, in which case the error callback receives ErrPollingTimeout.
func StartPoller(ctx context.Context, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = pollInterval
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = pollCeiling
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p := &Poller{
		cfg:    cfg,
		logger: logger.With("job_id", cfg.JobID),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go p.run(loopCtx)
	return p
}

// Close cancels the loop immediately. Idempotent.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
	})
}

// Done is closed once the loop has stopped.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// run drives the interval loop and the runaway-loop guard.
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.cfg.Ceiling)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			if p.cfg.OnError != nil {
				p.cfg.OnError(ErrPollingTimeout)
			}
			return
		case <-ticker.C:
			if p.poll(ctx) {
				return
			}
		}
	}
}

// poll performs one status query and reports whether the loop should stop.
// Transient fetch errors are logged and retried on the next tick.
func (p *Poller) poll(ctx context.Context) bool {
	job, err := p.cfg.Fetcher.JobStatus(ctx, p.cfg.JobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.logger.Debug("status poll failed", "error", err)
		return false
	}

	fact := factFromJob(job)
	if ctx.Err() != nil {
		return true
	}
	p.cfg.OnFact(fact)

	return fact.Status.Terminal()
}

// factFromJob converts a polled job representation into a progress fact, so
// downstream consumers never branch on how the observation arrived.
func factFromJob(job domain.Job) domain.ProgressFact {
	return domain.ProgressFact{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.ErrorMessage,
		Result:   job.ResultSummary,
	}
}
