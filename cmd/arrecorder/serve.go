package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processing relay that accepts session uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("relay")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.GetRelayConfig()
		if len(cfg.Command) == 0 {
			a.Logger.Warn("relay.command is empty, every upload will fail")
		}
		srv, err := relay.NewServer(cfg, &relay.CommandProcessor{
			Command: cfg.Command,
			WorkDir: cfg.WorkDir,
			Logger:  a.Logger,
		}, a.Logger)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx)
	},
}
