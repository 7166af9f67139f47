package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
	"transcript-client/internal/domain"
)

func newDoctorCommand(app *bootstrap.App) *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Check configuration and service connectivity",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, app)
		},
	}
}

func runDoctor(cmd *cobra.Command, app *bootstrap.App) error {
	report, err := app.RefreshDiagnostics(cmd.Context())
	if err != nil {
		return err
	}

	for _, item := range report.Items {
		marker := "ok"
		if item.Status == domain.DiagnosticStatusFail {
			marker = "FAIL"
		}
		cmd.Printf("[%s] %s: %s\n", marker, item.Name, item.Message)
		if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
			cmd.Printf("       %s\n", item.Hint)
		}
	}

	if report.HasFailures {
		return fmt.Errorf("some checks failed")
	}
	cmd.Println("All checks passed")
	return nil
}
