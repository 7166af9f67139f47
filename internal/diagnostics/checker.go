// Package diagnostics validates client configuration before jobs are
// tracked: endpoint URLs, credential availability, and output directory
// access.
package diagnostics

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"transcript-client/internal/api"
	"transcript-client/internal/domain"
)

// Checker validates settings and required collaborators.
type Checker struct {
	creds      api.CredentialSource
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(creds api.CredentialSource) *Checker {
	return &Checker{
		creds:      creds,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkAPIBase(settings.APIBase),
		c.checkRealtimeBase(settings.RealtimeBase),
		c.checkCredential(ctx),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAPIBase validates the REST endpoint URL.
func (c *Checker) checkAPIBase(base string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "api_base",
		Name: "API base URL",
	}

	u, err := parseBase(base)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		item.Hint = "Set apiBase to the service REST endpoint, e.g. https://host/api/v1."
		return item
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("API base must use http or https, got %q", u.Scheme)
		item.Hint = "Set apiBase to the service REST endpoint, e.g. https://host/api/v1."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s", base)
	return item
}

// checkRealtimeBase validates the websocket endpoint URL.
func (c *Checker) checkRealtimeBase(base string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "realtime_base",
		Name: "Realtime base URL",
	}

	u, err := parseBase(base)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		item.Hint = "Set realtimeBase to the websocket endpoint, e.g. wss://host/api/v1."
		return item
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Realtime base must use ws or wss, got %q", u.Scheme)
		item.Hint = "Set realtimeBase to the websocket endpoint, e.g. wss://host/api/v1."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s", base)
	return item
}

// checkCredential verifies the auth collaborator can produce a token.
func (c *Checker) checkCredential(ctx context.Context) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "credential",
		Name: "Credential",
	}

	if _, err := c.creds.Credential(ctx); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No usable credential: %v", err)
		item.Hint = "Sign in and store a token, or point tokenFile at an existing one."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Credential available"
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where downloaded artifacts can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for artifact downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// parseBase parses a non-empty base URL.
func parseBase(base string) (*url.URL, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("base URL is empty")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %s", trimmed)
	}
	return u, nil
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	creds api.CredentialSource,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		creds:      creds,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
