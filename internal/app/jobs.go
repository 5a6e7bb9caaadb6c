/**
 * @description
 * Scheduled job implementations: the nightly penalty batch and the monthly open-ended
 * installment top-up.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// BillingRunner is the part of the service driven by the scheduler.
type BillingRunner interface {
	Today() time.Time
	RunPenalties(ctx context.Context, asOf time.Time) (*domain.PenaltyRunResult, error)
	ExtendOpenEndedLeases(ctx context.Context, asOf time.Time) (*domain.ExtensionResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	runner BillingRunner
	logger *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(runner BillingRunner, logger *slog.Logger) *Jobs {
	return &Jobs{runner: runner, logger: logger}
}

// RunPenalties recomputes penalties as of the current business date.
func (j *Jobs) RunPenalties() {
	j.logger.Info("starting penalty job")
	ctx := context.Background()

	result, err := j.runner.RunPenalties(ctx, j.runner.Today())
	if err != nil {
		j.logger.Error("penalty job failed", "error", err)
		return
	}

	j.logger.Info("penalty job finished",
		"as_of", result.AsOf.Format("2006-01-02"),
		"evaluated", result.Evaluated,
		"updated", result.Updated,
		"marked_overdue", result.MarkedOverdue,
		"skipped", result.Skipped,
	)
}

// ExtendOpenEndedLeases tops up installments of open-ended leases.
func (j *Jobs) ExtendOpenEndedLeases() {
	j.logger.Info("starting installment top-up job")
	ctx := context.Background()

	result, err := j.runner.ExtendOpenEndedLeases(ctx, j.runner.Today())
	if err != nil {
		j.logger.Error("installment top-up job failed", "error", err)
		return
	}
	if result.Failed > 0 {
		j.logger.Warn("some leases could not be topped up", "failed", result.Failed)
	}

	j.logger.Info("installment top-up job finished",
		"leases_scanned", result.LeasesScanned,
		"installments_created", result.InstallmentsCreated,
	)
}
