package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"callwatch/internal/app"
	"callwatch/internal/config"
	"callwatch/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor (default)",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Errorw("init failed", "err", err)
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := application.Run(ctx); err != nil {
		log.Errorw("monitor stopped", "err", err)
		return err
	}
	log.Infow("monitor stopped")
	return nil
}
