package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reactor-lab/internal/config"
	"reactor-lab/internal/db"
	"reactor-lab/internal/service"

	"github.com/spf13/cobra"
)

var (
	configPath string
	watch      bool
)

// The worker is meant to be invoked by cron: each invocation drains the
// pending queue and exits. --watch keeps it alive on an internal ticker for
// environments without a scheduler.
var rootCmd = &cobra.Command{
	Use:   "reactor-worker",
	Short: "Process queued reactor experiments",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := db.InitDB(cfg); err != nil {
			return err
		}
		svcCtx := service.NewServiceContext(cfg)

		if !watch {
			start := time.Now()
			processed, err := svcCtx.Dispatcher.Drain(context.Background())
			if err != nil {
				return err
			}
			log.Printf("processed %d experiments in %s", processed, time.Since(start).Round(time.Millisecond))
			return nil
		}

		log.Printf("watching queue every %s, Ctrl+C to stop", cfg.WatchInterval())
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(cfg.WatchInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("shutting down")
				return nil
			case <-ticker.C:
				if _, err := svcCtx.Dispatcher.Drain(ctx); err != nil {
					log.Printf("drain error: %v", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config/config.yaml", "path to the config file")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "keep running on an internal ticker instead of exiting after one pass")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
