package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"transcript-client/internal/bootstrap"
)

func newSettingsCommand(app *bootstrap.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "settings",
		Short:         "Show the active client settings",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.GetSettings()
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}

	cmd.AddCommand(newSettingsSetCommand(app))
	return cmd
}

func newSettingsSetCommand(app *bootstrap.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "set",
		Short:         "Update and persist client settings",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.GetSettings()
			if err != nil {
				return err
			}

			if v, _ := cmd.Flags().GetString("api-base"); cmd.Flags().Changed("api-base") {
				settings.APIBase = v
			}
			if v, _ := cmd.Flags().GetString("realtime-base"); cmd.Flags().Changed("realtime-base") {
				settings.RealtimeBase = v
			}
			if v, _ := cmd.Flags().GetString("output-dir"); cmd.Flags().Changed("output-dir") {
				settings.OutputDir = v
			}
			if v, _ := cmd.Flags().GetString("token-file"); cmd.Flags().Changed("token-file") {
				settings.TokenFile = v
			}

			saved, err := app.SaveSettings(settings)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(saved, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}

	cmd.Flags().String("api-base", "", "REST API base URL")
	cmd.Flags().String("realtime-base", "", "Realtime websocket base URL")
	cmd.Flags().String("output-dir", "", "Directory for downloaded artifacts")
	cmd.Flags().String("token-file", "", "Path to the bearer token file")
	return cmd
}
