package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/store"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the nightly penalty job and the open-ended installment top-up on cron",
	RunE:  runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	dbpool, err := openDatabase(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer dbpool.Close()

	repository := store.NewPostgresRepository(dbpool, cfg.EventExchange)
	jobs := app.NewJobs(newService(cfg, repository), logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)

	if err := scheduler.Start(); err != nil {
		return err
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
	return nil
}
