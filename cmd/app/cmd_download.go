package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
	"transcript-client/internal/domain"
)

func newDownloadCommand(app *bootstrap.App) *cobra.Command {
	return &cobra.Command{
		Use:           "download <job-id> <format> [format...]",
		Short:         "Download result artifacts for a completed job",
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return downloadArtifacts(cmd.Context(), cmd, app, args[0], args[1:])
		},
	}
}

// downloadArtifacts fetches the given formats concurrently and waits for
// every transfer to settle.
func downloadArtifacts(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, jobID string, formats []string) error {
	ids := make([]string, 0, len(formats))
	for _, format := range formats {
		id, err := app.StartDownload(ctx, jobID, format)
		if err != nil {
			return fmt.Errorf("start %s download: %w", format, err)
		}
		ids = append(ids, id)
	}

	var failed int
	for _, id := range ids {
		task, err := waitForDownload(ctx, app, id)
		if err != nil {
			return err
		}
		switch task.Status {
		case domain.DownloadStatusComplete:
			cmd.Printf("Saved %s\n", task.Path)
		default:
			failed++
			cmd.Printf("Download %s (%s) failed: %s\n", task.JobID, task.Format, task.ErrorMessage)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(ids))
	}
	return nil
}

// waitForDownload blocks until one transfer reaches a terminal state.
func waitForDownload(ctx context.Context, app *bootstrap.App, id string) (domain.DownloadTask, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, ok := app.Downloads.Get(id)
		if ok && task.Status.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			app.CancelAllDownloads()
			return domain.DownloadTask{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
