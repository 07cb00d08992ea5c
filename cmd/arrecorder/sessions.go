package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/storage"
	"github.com/ar-recorder/recorder/internal/storage/memory"
	"github.com/ar-recorder/recorder/pkg/core"
)

var catalogFile string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List catalogued sessions as JSON",
	Long: `sessions prints the session catalog. With --file it reads a catalog export
written by the memory backend; otherwise it queries the configured backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []core.SessionRecord
		if catalogFile != "" {
			export, err := memory.ReadExport(catalogFile)
			if err != nil {
				return err
			}
			recs = export.Sessions
		} else {
			a, err := newApp("sessions")
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := config.GetStorageConfig()
			if cfg.Type != "postgres" {
				return fmt.Errorf("storage.type %q keeps no history, pass --file", cfg.Type)
			}
			cfg.SQLite.DumpPath = ""
			backend, err := storage.NewBackend(cfg, storage.Dependencies{Logger: a.Logger, DBLogger: a.DBLogger})
			if err != nil {
				return err
			}
			if err := backend.Init(); err != nil {
				return err
			}
			recs, err = backend.Sessions()
			backend.Close()
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	},
}

func init() {
	sessionsCmd.Flags().StringVarP(&catalogFile, "file", "f", "", "catalog export (.json or .json.gz)")
}
