package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
	"transcript-client/internal/domain"
	"transcript-client/internal/jobs"
)

func newTrackCommand(app *bootstrap.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <job-id>",
		Short: "Follow a job's progress until it finishes",
		Long: `Follow a job's progress until it reaches a terminal state. Progress
arrives over the realtime channel when available; otherwise the job is
polled. With --download, result artifacts are fetched once the job
completes.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formats, _ := cmd.Flags().GetStringSlice("download")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return runTrack(cmd, app, args[0], formats, timeout)
		},
	}
	cmd.Flags().StringSlice("download", nil, "Artifact formats to download on completion (e.g. txt,srt)")
	cmd.Flags().Duration("timeout", 0, "Give up waiting after this duration (0 waits indefinitely)")
	return cmd
}

func runTrack(cmd *cobra.Command, app *bootstrap.App, jobID string, formats []string, timeout time.Duration) error {
	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tracking, err := app.TrackJob(ctx, jobID)
	if err != nil {
		return err
	}
	defer tracking.Cancel()

	go streamEvents(ctx, cmd, app, jobID, tracking.Done())

	job, err := tracking.Wait(ctx)
	if err != nil {
		return fmt.Errorf("observe job %s: %w", jobID, err)
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		cmd.Printf("Job %s completed\n", jobID)
	case domain.JobStatusFailed:
		cmd.Printf("Job %s failed: %s\n", jobID, job.ErrorMessage)
		return nil
	default:
		cmd.Printf("Job %s ended in state %s\n", jobID, job.Status)
		return nil
	}

	if len(formats) == 0 {
		return nil
	}
	return downloadArtifacts(ctx, cmd, app, jobID, formats)
}

// streamEvents prints bus events for one job as they arrive.
func streamEvents(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var since int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for _, event := range app.JobEvents(since) {
				since = event.Seq
				if event.JobID != jobID || event.Type != jobs.EventTypeStatus {
					continue
				}
				cmd.Printf("  %s %d%%\n", event.Status, event.Progress)
			}
		}
	}
}
