/**
 * @description
 * Command-line entry points for the rental-finance service: the HTTP server, the cron
 * scheduler, schema migrations and one-off billing runs.
 *
 * @dependencies
 * - github.com/spf13/cobra: command tree and flags.
 */
package cli

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/config"
	"github.com/immotopia/rental-finance-service/internal/store"
	"github.com/immotopia/rental-finance-service/pkg/documentclient"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "rental-finance",
	Short:         "Rental finance engine: leases, installments, payments, penalties and deposits",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding an optional .env file")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func loadConfig() (config.Config, error) {
	return config.LoadConfig(configDir)
}

// openDatabase connects a pool sized from config.
func openDatabase(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return dbpool, nil
}

// newService builds the application service over the Postgres repository.
func newService(cfg config.Config, repository *store.PostgresRepository) app.Service {
	var renderer app.DocumentRenderer
	if cfg.DocumentServiceURL != "" {
		renderer = documentclient.NewClient(cfg.DocumentServiceURL, cfg.DocumentServiceAPIKey)
	} else {
		log.Println("level=warn component=bootstrap msg=\"document service not configured; documents stay PENDING\" env=DOCUMENT_SERVICE_URL")
	}

	return app.NewService(
		repository,
		renderer,
		cfg.BusinessTimezone,
		app.WithOpenEndedHorizon(cfg.OpenEndedHorizonMonths),
		app.WithAutoIssueReceipts(cfg.AutoIssueReceipts),
	)
}
