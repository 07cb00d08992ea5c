package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ar-recorder/recorder/internal/api"
	"github.com/ar-recorder/recorder/internal/config"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the processing service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetUploadConfig()
		client := api.New(api.Config{
			BaseURL:         cfg.ServerURL,
			ConnectTimeout:  cfg.ConnectTimeout,
			ResponseTimeout: cfg.ConnectTimeout,
		})
		status, err := client.Healthcheck(cmd.Context())
		if err != nil {
			return fmt.Errorf("%s: %w", client.BaseURL(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", client.BaseURL(), status.Status, status.Message)
		return nil
	},
}
