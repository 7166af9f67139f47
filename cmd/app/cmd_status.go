package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
)

func newStatusCommand(app *bootstrap.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status <job-id>",
		Short:         "Fetch the current status of a transcription job",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, app, args[0])
		},
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runStatus(cmd *cobra.Command, app *bootstrap.App, jobID string) error {
	job, err := app.JobStatus(cmd.Context(), jobID)
	if err != nil {
		return fmt.Errorf("fetch job status: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Job:      %s\n", job.ID)
	cmd.Printf("Status:   %s\n", job.Status)
	cmd.Printf("Progress: %d%%\n", job.Progress)
	if job.ErrorMessage != "" {
		cmd.Printf("Error:    %s\n", job.ErrorMessage)
	}
	return nil
}
