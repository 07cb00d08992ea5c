// Command arrecorder records anchor-relative AR sessions from a tracking
// trace, uploads them for processing and serves the processing relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ar-recorder/recorder/internal/config"
)

const appName = "arrecorder"

var configDir string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "AR session recorder",
	Long: `arrecorder captures camera frames relative to a world anchor, packages each
session and sends it to a processing service. The result is projected back
into the live scene.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configDir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
			config.SetDefaults()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory containing "+config.FileName+".json")
	rootCmd.AddCommand(recordCmd, serveCmd, healthCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
