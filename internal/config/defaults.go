package config

import (
	"os"
	"path/filepath"

	"transcript-client/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
// The service bases default to a local development stack.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		APIBase:      "http://localhost:8000/api/v1",
		RealtimeBase: "ws://localhost:8000/api/v1",
		OutputDir:    filepath.Join(homeDir, "Documents", "Transcripts"),
		TokenFile:    filepath.Join(homeDir, ".transcript-client", "token"),
	}
}
