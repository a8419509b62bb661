package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mined-project/mined/internal/config"
	"github.com/mined-project/mined/internal/daemon"
	"github.com/mined-project/mined/internal/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("info", true)
			cfg, err := config.Load(flagConfig, log)
			if err != nil {
				return fmt.Errorf("load config %s: %w", flagConfig, err)
			}
			log = logger.New(cfg.Log.Level, cfg.Log.Color)

			d, err := daemon.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errCh := d.Start(ctx)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				log.Info("shutting down", "signal", s.String())
			case err := <-errCh:
				log.Error("listener failed", "error", err)
			}

			shCtx, shCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shCancel()
			d.Shutdown(shCtx)
			return nil
		},
	}
}
