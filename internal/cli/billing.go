package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/store"
)

var penaltiesCmd = &cobra.Command{
	Use:   "penalties",
	Short: "Late-payment penalty operations",
}

var penaltiesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Recompute penalties for overdue installments",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		return withService(cmd, func(ctx context.Context, service app.Service, asOf time.Time) (interface{}, error) {
			if tenantID != "" {
				return service.RunTenantPenalties(ctx, tenantID, asOf)
			}
			return service.RunPenalties(ctx, asOf)
		})
	},
}

var installmentsCmd = &cobra.Command{
	Use:   "installments",
	Short: "Installment schedule operations",
}

var installmentsExtendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Top up the rolling schedule of open-ended leases",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service app.Service, asOf time.Time) (interface{}, error) {
			return service.ExtendOpenEndedLeases(ctx, asOf)
		})
	},
}

func init() {
	rootCmd.AddCommand(penaltiesCmd)
	penaltiesCmd.AddCommand(penaltiesRunCmd)
	rootCmd.AddCommand(installmentsCmd)
	installmentsCmd.AddCommand(installmentsExtendCmd)

	for _, cmd := range []*cobra.Command{penaltiesRunCmd, installmentsExtendCmd} {
		cmd.Flags().String("as-of", "", "Business date YYYY-MM-DD (defaults to today in the business timezone)")
	}
	penaltiesRunCmd.Flags().String("tenant", "", "Restrict the run to one tenant")
}

// parseAsOf reads an optional YYYY-MM-DD flag value. The zero time means "today".
func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	asOf, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: expected YYYY-MM-DD", raw)
	}
	return asOf, nil
}

func withService(cmd *cobra.Command, run func(ctx context.Context, service app.Service, asOf time.Time) (interface{}, error)) error {
	rawAsOf, _ := cmd.Flags().GetString("as-of")
	asOf, err := parseAsOf(rawAsOf)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	dbpool, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer dbpool.Close()

	service := newService(cfg, store.NewPostgresRepository(dbpool, cfg.EventExchange))
	if asOf.IsZero() {
		asOf = service.Today()
	}

	result, err := run(ctx, service, asOf)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
