// Package download moves result artifacts from the service to local files,
// with per-transfer progress, cancellation, and fully independent task
// lifecycles.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"transcript-client/internal/domain"
)

// ErrUnknownDownload is returned when an id does not match a tracked task.
var ErrUnknownDownload = errors.New("unknown download id")

// cancelledMessage marks tasks aborted by the caller rather than by failure.
const cancelledMessage = "download cancelled"

// ArtifactOpener starts one artifact byte stream. *api.Client satisfies it.
// The returned size is -1 when the total is unknown.
type ArtifactOpener interface {
	OpenArtifact(ctx context.Context, jobID, format string) (io.ReadCloser, int64, error)
}

// ProgressFunc receives task snapshots as a transfer advances. The final
// snapshot for a task is always terminal; nothing follows it.
type ProgressFunc func(domain.DownloadTask)

// Request describes one artifact transfer. When Content is set, no network
// fetch happens: the bytes are written locally through the same state
// sequence so callers observe a uniform contract.
type Request struct {
	JobID      string
	Format     string
	Content    []byte
	OnProgress ProgressFunc
}

// Manager tracks zero or more concurrent artifact transfers keyed by id.
type Manager struct {
	opener ArtifactOpener
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
	order []string
}

// task pairs the caller-visible record with its cancellation handle.
type task struct {
	record     domain.DownloadTask
	cancel     context.CancelFunc
	cancelled  bool
	onProgress ProgressFunc
	created    time.Time
}

// NewManager creates a manager writing artifacts into dir.
func NewManager(opener ArtifactOpener, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opener: opener,
		dir:    dir,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Start begins one transfer in preparing state and returns its id. The
// transfer itself runs asynchronously; observe it via OnProgress or Get.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if req.JobID == "" {
		return "", errors.New("job id is required")
	}
	if req.Format == "" {
		return "", errors.New("artifact format is required")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := &task{
		record: domain.DownloadTask{
			ID:     uuid.NewString(),
			JobID:  req.JobID,
			Format: req.Format,
			Status: domain.DownloadStatusPreparing,
		},
		cancel:     cancel,
		onProgress: req.OnProgress,
		created:    time.Now(),
	}

	m.mu.Lock()
	m.tasks[t.record.ID] = t
	m.order = append(m.order, t.record.ID)
	m.mu.Unlock()

	m.emit(t.record.ID)

	if req.Content != nil {
		go m.runLocal(t.record.ID, req.Content)
	} else {
		go m.run(runCtx, t.record.ID)
	}
	return t.record.ID, nil
}

// Cancel aborts an in-flight transfer. The task transitions to error state
// with a cancellation message and emits no further progress. Cancelling an
// already-terminal task is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownDownload
	}
	if t.record.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	t.cancelled = true
	cancel := t.cancel
	m.mu.Unlock()

	cancel()
	m.finish(id, domain.DownloadStatusError, cancelledMessage)
	return nil
}

// CancelAll cancels every currently tracked, non-terminal transfer.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := lo.Keys(m.tasks)
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id string) (domain.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.DownloadTask{}, false
	}
	return t.record, true
}

// Tasks returns snapshots of all tracked tasks in creation order.
func (m *Manager) Tasks() []domain.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.DownloadTask, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.record)
		}
	}
	return out
}

// Active returns snapshots of non-terminal tasks, oldest first.
func (m *Manager) Active() []domain.DownloadTask {
	m.mu.Lock()
	tasks := lo.Values(m.tasks)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].created.Before(tasks[j].created) })
	m.mu.Unlock()

	records := lo.Map(tasks, func(t *task, _ int) domain.DownloadTask { return t.record })
	return lo.Filter(records, func(r domain.DownloadTask, _ int) bool { return !r.Status.Terminal() })
}

// Remove drops a terminal task from tracking. Records never expire on their
// own; disposal is the caller's call.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrUnknownDownload
	}
	if !t.record.Status.Terminal() {
		return fmt.Errorf("download %s is still in flight", id)
	}

	delete(m.tasks, id)
	m.order = lo.Without(m.order, id)
	return nil
}

// run performs a network transfer for one task.
func (m *Manager) run(ctx context.Context, id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	jobID := t.record.JobID
	format := t.record.Format
	m.mu.Unlock()

	stream, total, err := m.opener.OpenArtifact(ctx, jobID, format)
	if err != nil {
		m.failUnlessCancelled(id, fmt.Sprintf("open artifact: %v", err))
		return
	}
	defer stream.Close()

	path := m.artifactPath(jobID, format)
	file, err := os.Create(path)
	if err != nil {
		m.failUnlessCancelled(id, fmt.Sprintf("create artifact file: %v", err))
		return
	}
	defer file.Close()

	m.transition(id, domain.DownloadStatusTransferring, total, path)

	if err := m.copy(ctx, id, file, stream, total); err != nil {
		_ = os.Remove(path)
		m.failUnlessCancelled(id, fmt.Sprintf("transfer artifact: %v", err))
		return
	}

	m.finish(id, domain.DownloadStatusComplete, "")
}

// runLocal routes locally generated content through the same state sequence
// as a network transfer.
func (m *Manager) runLocal(id string, content []byte) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	jobID := t.record.JobID
	format := t.record.Format
	m.mu.Unlock()

	path := m.artifactPath(jobID, format)
	m.transition(id, domain.DownloadStatusTransferring, int64(len(content)), path)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		m.failUnlessCancelled(id, fmt.Sprintf("write artifact file: %v", err))
		return
	}

	m.finish(id, domain.DownloadStatusComplete, "")
}

// copy streams chunks into the file, updating progress per chunk. With a
// known total, progress is the rounded byte ratio; without one, progress
// stays at the transferring checkpoint until completion.
func (m *Manager) copy(ctx context.Context, id string, dst io.Writer, src io.Reader, total int64) error {
	buf := make([]byte, 32*1024)
	var received int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			received += int64(n)
			if total > 0 {
				m.setProgress(id, int(math.Round(float64(received)/float64(total)*100)))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// transition moves a task into transferring state and sets its progress
// baseline: byte-ratio reporting for known sizes, the midway checkpoint for
// indeterminate ones.
func (m *Manager) transition(id string, status domain.DownloadStatus, total int64, path string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.record.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.record.Status = status
	t.record.Path = path
	if total <= 0 {
		t.record.Indeterminate = true
		t.record.Progress = 50
	}
	record, cb := t.record, t.onProgress
	m.mu.Unlock()

	notify(cb, record)
}

// setProgress updates byte-ratio progress, monotonically.
func (m *Manager) setProgress(id string, progress int) {
	if progress > 100 {
		progress = 100
	}

	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.record.Status.Terminal() || progress <= t.record.Progress {
		m.mu.Unlock()
		return
	}
	t.record.Progress = progress
	record, cb := t.record, t.onProgress
	m.mu.Unlock()

	notify(cb, record)
}

// failUnlessCancelled marks a task failed, unless Cancel already owned the
// terminal transition for it.
func (m *Manager) failUnlessCancelled(id string, message string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.cancelled || t.record.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.finish(id, domain.DownloadStatusError, message)
}

// finish applies the terminal transition and emits the final snapshot.
func (m *Manager) finish(id string, status domain.DownloadStatus, message string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.record.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.record.Status = status
	t.record.ErrorMessage = message
	if status == domain.DownloadStatusComplete {
		t.record.Progress = 100
	}
	record, cb := t.record, t.onProgress
	m.mu.Unlock()

	if status == domain.DownloadStatusError {
		m.logger.Debug("download ended in error", "id", id, "message", message)
	}
	notify(cb, record)
}

// emit delivers the current snapshot to the task's progress callback.
func (m *Manager) emit(id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	record, cb := t.record, t.onProgress
	m.mu.Unlock()

	notify(cb, record)
}

// notify invokes a progress callback when one is configured.
func notify(cb ProgressFunc, record domain.DownloadTask) {
	if cb != nil {
		cb(record)
	}
}

// artifactPath builds the destination file path for one artifact.
func (m *Manager) artifactPath(jobID, format string) string {
	return filepath.Join(m.dir, jobID+"."+format)
}
