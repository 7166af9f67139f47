package jobs

import (
	"sync"

	"transcript-client/internal/domain"
)

// StateMachine folds observed progress facts into a single job record. It is
// the one place that decides whether a job is done; transports never branch
// on lifecycle themselves.
type StateMachine struct {
	mu  sync.Mutex
	job domain.Job
}

// NewStateMachine creates a state machine for one job in pending state.
func NewStateMachine(jobID string) *StateMachine {
	return &StateMachine{
		job: domain.Job{
			ID:     jobID,
			Status: domain.JobStatusPending,
		},
	}
}

// Apply folds one progress fact into the job record and returns the updated
// record. Facts for other jobs, facts with unknown statuses, and any fact
// arriving after a terminal status are discarded.
func (m *StateMachine) Apply(fact domain.ProgressFact) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fact.JobID != "" && fact.JobID != m.job.ID {
		return m.job
	}
	if m.job.Status.Terminal() {
		return m.job
	}
	if !fact.Status.Known() {
		return m.job
	}

	m.job.Status = fact.Status
	m.job.Progress = clampProgress(fact.Progress, m.job.Progress, fact.Status)

	switch fact.Status {
	case domain.JobStatusCompleted:
		m.job.Progress = 100
		if len(fact.Result) > 0 {
			m.job.ResultSummary = fact.Result
		}
	case domain.JobStatusFailed:
		m.job.ErrorMessage = fact.Error
		if m.job.ErrorMessage == "" {
			m.job.ErrorMessage = fact.Message
		}
	}

	return m.job
}

// Current returns a snapshot of the job record.
func (m *StateMachine) Current() domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

// Terminal reports whether the job has reached a terminal status.
func (m *StateMachine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Status.Terminal()
}

// clampProgress bounds progress to 0-100 and keeps it monotonic while the
// job stays in processing state.
func clampProgress(next, prev int, status domain.JobStatus) int {
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	if status == domain.JobStatusProcessing && next < prev {
		return prev
	}
	return next
}
