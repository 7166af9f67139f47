package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transcript-client/internal/api"
	"transcript-client/internal/bootstrap"
	"transcript-client/internal/diagnostics"
	"transcript-client/internal/domain"
	"transcript-client/internal/download"
	"transcript-client/internal/progress"
)

// memStore keeps settings in memory for CLI tests.
type memStore struct {
	settings domain.Settings
}

func (s *memStore) Load() (domain.Settings, error) { return s.settings, nil }

func (s *memStore) Save(settings domain.Settings) error {
	s.settings = settings
	return nil
}

// newCLIApp builds an App wired against the given status handler.
func newCLIApp(t *testing.T, handler http.HandlerFunc) (*bootstrap.App, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	settings := domain.Settings{
		APIBase:      srv.URL,
		RealtimeBase: "ws://127.0.0.1:1",
		OutputDir:    t.TempDir(),
	}
	creds := api.StaticCredential("test-token")
	client := api.NewClient(settings.APIBase, creds)
	observer := progress.NewObserver(settings.RealtimeBase, creds, client, nil)
	downloads := download.NewManager(client, settings.OutputDir, nil)

	app := bootstrap.NewForTests(&memStore{settings: settings}, settings, client, observer, downloads, diagnostics.NewChecker(creds), nil)
	return app, srv
}

// TestStatusCommandJSON checks the status subcommand's JSON output.
func TestStatusCommandJSON(t *testing.T) {
	app, _ := newCLIApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.Job{
			ID:       "job-1",
			Status:   domain.JobStatusProcessing,
			Progress: 55,
		})
	})

	cmd := newRootCommand(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "job-1", "--format", "json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var job domain.Job
	if err := json.Unmarshal(out.Bytes(), &job); err != nil {
		t.Fatalf("output is not job JSON: %v\n%s", err, out.String())
	}
	if job.Status != domain.JobStatusProcessing || job.Progress != 55 {
		t.Fatalf("job = %+v, want processing at 55", job)
	}
}

// TestStatusCommandSurfacesAPIError checks non-2xx handling.
func TestStatusCommandSurfacesAPIError(t *testing.T) {
	app, _ := newCLIApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"job not found"}`))
	})

	cmd := newRootCommand(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "missing"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing job")
	}
	if !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("error = %v, want server detail included", err)
	}
}

// TestDoctorCommandAllChecksPass checks doctor output for a healthy setup.
func TestDoctorCommandAllChecksPass(t *testing.T) {
	t.Setenv("TRANSCRIPT_TOKEN", "tok")

	app, _ := newCLIApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cmd := newRootCommand(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"doctor"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "All checks passed") {
		t.Fatalf("output = %q, want success summary", out.String())
	}
}

// TestSettingsSetPersists checks the settings set subcommand.
func TestSettingsSetPersists(t *testing.T) {
	app, _ := newCLIApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cmd := newRootCommand(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"settings", "set", "--api-base", "https://api.example.com/api/v1/"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	settings, err := app.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings.APIBase != "https://api.example.com/api/v1" {
		t.Fatalf("api base = %q, want normalized", settings.APIBase)
	}
}
