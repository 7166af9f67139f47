// Package bootstrap wires configuration, the API client, job observation,
// and downloads into one application object consumed by the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"transcript-client/internal/api"
	"transcript-client/internal/config"
	"transcript-client/internal/diagnostics"
	"transcript-client/internal/domain"
	"transcript-client/internal/download"
	"transcript-client/internal/jobs"
	"transcript-client/internal/progress"
)

// tokenEnvVar overrides the token file when set.
const tokenEnvVar = "TRANSCRIPT_TOKEN"

// App wires configuration, the service client, job observation, and downloads.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Client      *api.Client
	Observer    *progress.Observer
	Downloads   *download.Manager
	Diagnostics domain.DiagnosticReport

	checker *diagnostics.Checker
	events  *jobs.EventBus
	logger  *slog.Logger

	mu        sync.Mutex
	trackings map[string]*progress.Tracking
}

// New builds the application with persisted settings and startup diagnostics.
func New(logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".transcript-client", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := &App{
		Store:     store,
		events:    jobs.NewEventBus(1000),
		logger:    logger,
		trackings: make(map[string]*progress.Tracking),
	}
	app.applySettings(settings)
	app.Diagnostics = app.checker.Run(context.Background(), settings)
	return app, nil
}

// NewForTests builds the application around injected collaborators.
func NewForTests(store config.Store, settings domain.Settings, client *api.Client, observer *progress.Observer, downloads *download.Manager, checker *diagnostics.Checker, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		Settings:  settings,
		Store:     store,
		Client:    client,
		Observer:  observer,
		Downloads: downloads,
		checker:   checker,
		events:    jobs.NewEventBus(1000),
		logger:    logger,
		trackings: make(map[string]*progress.Tracking),
	}
}

// applySettings rebuilds service collaborators for the given settings.
func (a *App) applySettings(settings domain.Settings) {
	creds := api.CredentialChain{
		api.EnvCredential(tokenEnvVar),
		api.FileCredential(settings.TokenFile),
	}
	client := api.NewClient(settings.APIBase, creds)

	a.Settings = settings
	a.Client = client
	a.Observer = progress.NewObserver(settings.RealtimeBase, creds, client, a.logger)
	a.Downloads = download.NewManager(client, settings.OutputDir, a.logger)
	a.checker = diagnostics.NewChecker(creds)
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, rebuilds service
// collaborators, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.applySettings(normalized)
	a.Diagnostics = a.checker.Run(context.Background(), normalized)
	a.mu.Unlock()

	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics(ctx context.Context) (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.applySettings(settings)
	report := a.checker.Run(ctx, settings)
	a.Diagnostics = report
	a.mu.Unlock()

	return report, nil
}

// JobStatus fetches the current server-side job record.
func (a *App) JobStatus(ctx context.Context, jobID string) (domain.Job, error) {
	return a.Client.JobStatus(ctx, jobID)
}

// TrackJob starts observing a job's progress. Tracking the same job again
// returns the existing handle. Updates are mirrored onto the event bus.
func (a *App) TrackJob(ctx context.Context, jobID string) (*progress.Tracking, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}

	a.mu.Lock()
	if t, ok := a.trackings[jobID]; ok {
		a.mu.Unlock()
		return t, nil
	}
	observer := a.Observer
	a.mu.Unlock()

	t := observer.Track(ctx, jobID, progress.WithUpdateFunc(func(job domain.Job) {
		a.publishJobUpdate(job)
	}))

	a.mu.Lock()
	a.trackings[jobID] = t
	a.mu.Unlock()

	go a.reapTracking(ctx, jobID, t)
	return t, nil
}

// CancelTracking stops local observation of one job. The server-side job is
// unaffected.
func (a *App) CancelTracking(jobID string) error {
	a.mu.Lock()
	t, ok := a.trackings[jobID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not tracked", jobID)
	}

	t.Cancel()
	return nil
}

// Tracking returns the handle for one tracked job, if present.
func (a *App) Tracking(jobID string) (*progress.Tracking, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.trackings[jobID]
	return t, ok
}

// reapTracking publishes observation failures and drops finished handles.
func (a *App) reapTracking(ctx context.Context, jobID string, t *progress.Tracking) {
	select {
	case <-ctx.Done():
	case <-t.Done():
		if err := t.Err(); err != nil {
			a.events.Publish(jobs.Event{
				JobID:   jobID,
				Type:    jobs.EventTypeError,
				Message: err.Error(),
			})
		}
	}

	a.mu.Lock()
	if a.trackings[jobID] == t {
		delete(a.trackings, jobID)
	}
	a.mu.Unlock()
}

// publishJobUpdate mirrors one folded job record onto the event bus.
func (a *App) publishJobUpdate(job domain.Job) {
	a.events.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeStatus,
		Status:   job.Status,
		Progress: job.Progress,
	})

	switch job.Status {
	case domain.JobStatusCompleted:
		a.events.Publish(jobs.Event{
			JobID:   job.ID,
			Type:    jobs.EventTypeResult,
			Status:  job.Status,
			Message: "Transcription completed",
		})
	case domain.JobStatusFailed:
		a.events.Publish(jobs.Event{
			JobID:   job.ID,
			Type:    jobs.EventTypeError,
			Status:  job.Status,
			Message: job.ErrorMessage,
		})
	}
}

// StartDownload begins one artifact transfer from the service.
func (a *App) StartDownload(ctx context.Context, jobID, format string) (string, error) {
	return a.Downloads.Start(ctx, download.Request{
		JobID:      jobID,
		Format:     format,
		OnProgress: a.publishDownloadUpdate,
	})
}

// StartLocalDownload writes locally held content through the download
// pipeline so callers observe the usual state sequence.
func (a *App) StartLocalDownload(ctx context.Context, jobID, format string, content []byte) (string, error) {
	return a.Downloads.Start(ctx, download.Request{
		JobID:      jobID,
		Format:     format,
		Content:    content,
		OnProgress: a.publishDownloadUpdate,
	})
}

// CancelDownload aborts one in-flight transfer.
func (a *App) CancelDownload(id string) error {
	return a.Downloads.Cancel(id)
}

// CancelAllDownloads aborts every in-flight transfer.
func (a *App) CancelAllDownloads() {
	a.Downloads.CancelAll()
}

// DownloadTasks returns snapshots of all tracked transfers.
func (a *App) DownloadTasks() []domain.DownloadTask {
	return a.Downloads.Tasks()
}

// publishDownloadUpdate mirrors one transfer snapshot onto the event bus.
func (a *App) publishDownloadUpdate(task domain.DownloadTask) {
	snapshot := task
	a.events.Publish(jobs.Event{
		JobID:    task.JobID,
		Type:     jobs.EventTypeDownload,
		Message:  task.ErrorMessage,
		Download: &snapshot,
	})
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// normalizeSettings trims user inputs and strips trailing slashes from
// service bases.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.APIBase = strings.TrimRight(strings.TrimSpace(settings.APIBase), "/")
	settings.RealtimeBase = strings.TrimRight(strings.TrimSpace(settings.RealtimeBase), "/")
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.TokenFile = strings.TrimSpace(settings.TokenFile)
	return settings
}
