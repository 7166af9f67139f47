package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
)

var version = "dev"

func newRootCommand(app *bootstrap.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript-client",
		Short: "Client for an asynchronous transcription service",
		Long: `transcript-client observes transcription jobs and retrieves their
results. Progress arrives over a realtime channel when available, with an
automatic fallback to status polling.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newStatusCommand(app))
	cmd.AddCommand(newTrackCommand(app))
	cmd.AddCommand(newDownloadCommand(app))
	cmd.AddCommand(newDoctorCommand(app))
	cmd.AddCommand(newSettingsCommand(app))

	return cmd
}

func execute() error {
	app, err := bootstrap.New(slog.Default())
	if err != nil {
		return err
	}

	return newRootCommand(app).Execute()
}
