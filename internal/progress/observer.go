package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transcript-client/internal/api"
	"transcript-client/internal/domain"
	"transcript-client/internal/jobs"
)

// Observer tracks jobs to completion, preferring the realtime channel and
// swapping to polling when the channel cannot be established or fails.
type Observer struct {
	realtimeBase string
	creds        api.CredentialSource
	fetcher      StatusFetcher
	logger       *slog.Logger

	openTimeout  time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	pollInterval time.Duration
	pollCeiling  time.Duration
}

// ObserverOption adjusts observer timing, mainly for tests.
type ObserverOption func(*Observer)

// WithChannelTiming overrides the channel open timeout and backoff schedule.
func WithChannelTiming(openTimeout, baseDelay, maxDelay time.Duration, maxAttempts int) ObserverOption {
	return func(o *Observer) {
		o.openTimeout = openTimeout
		o.baseDelay = baseDelay
		o.maxDelay = maxDelay
		o.maxAttempts = maxAttempts
	}
}

// WithPollTiming overrides the polling interval and ceiling.
func WithPollTiming(interval, ceiling time.Duration) ObserverOption {
	return func(o *Observer) {
		o.pollInterval = interval
		o.pollCeiling = ceiling
	}
}

// NewObserver creates an observer over the given realtime endpoint and
// status lookup collaborator.
func NewObserver(realtimeBase string, creds api.CredentialSource, fetcher StatusFetcher, logger *slog.Logger, opts ...ObserverOption) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Observer{
		realtimeBase: realtimeBase,
		creds:        creds,
		fetcher:      fetcher,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// mechanism is the common surface of Channel and Poller.
type mechanism interface {
	Close()
}

// TrackOption adjusts a single tracking.
type TrackOption func(*Tracking)

// WithUpdateFunc registers a callback invoked with the folded job record
// after every applied fact, terminal ones included.
func WithUpdateFunc(fn func(domain.Job)) TrackOption {
	return func(t *Tracking) {
		t.onUpdate = fn
	}
}

// Tracking is the caller-held handle for one observed job.
type Tracking struct {
	jobID    string
	sm       *jobs.StateMachine
	logger   *slog.Logger
	onUpdate func(domain.Job)

	mu        sync.Mutex
	gen       int
	active    mechanism
	fellBack  bool
	cancelled bool
	finished  bool
	err       error

	done chan struct{}
}

// Track starts observing one job and returns its tracking handle. The
// realtime channel is attempted first; any channel failure, before or after
// facts have arrived, swaps to polling exactly once.
func (o *Observer) Track(ctx context.Context, jobID string, opts ...TrackOption) *Tracking {
	t := &Tracking{
		jobID:  jobID,
		sm:     jobs.NewStateMachine(jobID),
		logger: o.logger.With("job_id", jobID),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.gen = 1

	ch, err := OpenChannel(ctx, ChannelConfig{
		RealtimeBase: o.realtimeBase,
		JobID:        jobID,
		Credentials:  o.creds,
		OnFact:       t.factHandler(1),
		OnError:      t.channelErrorHandler(ctx, o, 1),
		Logger:       o.logger,
		OpenTimeout:  o.openTimeout,
		BaseDelay:    o.baseDelay,
		MaxDelay:     o.maxDelay,
		MaxAttempts:  o.maxAttempts,
	})
	if err != nil {
		t.logger.Debug("realtime channel unavailable, falling back to polling", "error", err)
		t.startPolling(ctx, o)
		return t
	}

	t.mu.Lock()
	if t.cancelled || t.finished || t.gen != 1 {
		t.mu.Unlock()
		ch.Close()
		return t
	}
	t.active = ch
	t.mu.Unlock()
	return t
}

// CurrentJob returns the latest folded job record.
func (t *Tracking) CurrentJob() domain.Job {
	return t.sm.Current()
}

// Cancel stops local observation without mutating the job's status; the job
// may well keep running server-side. Idempotent, safe after natural
// termination.
func (t *Tracking) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	active := t.active
	t.active = nil
	finished := t.finished
	t.finished = true
	t.mu.Unlock()

	if active != nil {
		active.Close()
	}
	if !finished {
		close(t.done)
	}
}

// Done is closed once the job reaches a terminal state, observation fails,
// or Cancel is called.
func (t *Tracking) Done() <-chan struct{} {
	return t.done
}

// Err returns the observation failure, if any. A job that ended Failed is
// not an observation failure; its record carries the server's message.
func (t *Tracking) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until tracking finishes or the context expires, then returns
// the final job record and any observation failure.
func (t *Tracking) Wait(ctx context.Context) (domain.Job, error) {
	select {
	case <-ctx.Done():
		return t.sm.Current(), ctx.Err()
	case <-t.done:
		return t.sm.Current(), t.Err()
	}
}

// factHandler routes facts from the mechanism of the given generation.
// Facts from a superseded mechanism are dropped, which keeps application
// order consistent with whichever mechanism currently owns the job.
func (t *Tracking) factHandler(gen int) FactFunc {
	return func(fact domain.ProgressFact) {
		t.mu.Lock()
		stale := t.cancelled || t.finished || t.gen != gen
		t.mu.Unlock()
		if stale {
			return
		}

		job := t.sm.Apply(fact)
		if t.onUpdate != nil {
			t.onUpdate(job)
		}
		if job.Status.Terminal() {
			t.finish(nil)
		}
	}
}

// channelErrorHandler swaps to polling when the channel gives up after its
// reconnect budget. The swap happens at most once per tracked job.
func (t *Tracking) channelErrorHandler(ctx context.Context, o *Observer, gen int) ErrorFunc {
	return func(err error) {
		t.mu.Lock()
		if t.cancelled || t.finished || t.fellBack || t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.fellBack = true
		active := t.active
		t.active = nil
		t.mu.Unlock()

		if active != nil {
			active.Close()
		}

		t.logger.Debug("realtime channel failed, falling back to polling", "error", err)
		t.startPolling(ctx, o)
	}
}

// startPolling installs the polling mechanism under the next generation.
func (t *Tracking) startPolling(ctx context.Context, o *Observer) {
	t.mu.Lock()
	if t.cancelled || t.finished {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	p := StartPoller(ctx, PollerConfig{
		JobID:    t.jobID,
		Fetcher:  o.fetcher,
		OnFact:   t.factHandler(gen),
		OnError:  t.pollErrorHandler(gen),
		Logger:   o.logger,
		Interval: o.pollInterval,
		Ceiling:  o.pollCeiling,
	})

	t.mu.Lock()
	if t.cancelled || t.finished || t.gen != gen {
		t.mu.Unlock()
		p.Close()
		return
	}
	t.active = p
	t.mu.Unlock()
}

// pollErrorHandler surfaces the polling ceiling as an observation failure:
// at that point both mechanisms are exhausted.
func (t *Tracking) pollErrorHandler(gen int) ErrorFunc {
	return func(err error) {
		t.mu.Lock()
		stale := t.cancelled || t.finished || t.gen != gen
		t.mu.Unlock()
		if stale {
			return
		}
		t.finish(err)
	}
}

// finish records the outcome, releases the active mechanism, and closes done.
func (t *Tracking) finish(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.err = err
	active := t.active
	t.active = nil
	t.mu.Unlock()

	if active != nil {
		active.Close()
	}
	close(t.done)
}
