package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/immotopia/rental-finance-service/internal/config"
	"github.com/immotopia/rental-finance-service/internal/domain"
)

type billingRunnerStub struct {
	today time.Time

	penaltyAsOf []time.Time
	penaltyErr  error

	extendAsOf []time.Time
	extendErr  error
}

func (s *billingRunnerStub) Today() time.Time { return s.today }

func (s *billingRunnerStub) RunPenalties(ctx context.Context, asOf time.Time) (*domain.PenaltyRunResult, error) {
	s.penaltyAsOf = append(s.penaltyAsOf, asOf)
	if s.penaltyErr != nil {
		return nil, s.penaltyErr
	}
	return &domain.PenaltyRunResult{AsOf: asOf, Evaluated: 2, Updated: 1}, nil
}

func (s *billingRunnerStub) ExtendOpenEndedLeases(ctx context.Context, asOf time.Time) (*domain.ExtensionResult, error) {
	s.extendAsOf = append(s.extendAsOf, asOf)
	if s.extendErr != nil {
		return nil, s.extendErr
	}
	return &domain.ExtensionResult{LeasesScanned: 3, InstallmentsCreated: 2, Failed: 1}, nil
}

func newTestJobs(runner BillingRunner) *Jobs {
	return NewJobs(runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJobsRunPenalties_UsesBusinessDate(t *testing.T) {
	runner := &billingRunnerStub{today: time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)}

	newTestJobs(runner).RunPenalties()

	if len(runner.penaltyAsOf) != 1 {
		t.Fatalf("expected one penalty run, got %d", len(runner.penaltyAsOf))
	}
	if !runner.penaltyAsOf[0].Equal(runner.today) {
		t.Fatalf("expected penalty run as of %s, got %s", runner.today, runner.penaltyAsOf[0])
	}
}

func TestJobsRunPenalties_SurvivesErrors(t *testing.T) {
	runner := &billingRunnerStub{penaltyErr: errors.New("database unavailable")}

	newTestJobs(runner).RunPenalties()

	if len(runner.penaltyAsOf) != 1 {
		t.Fatal("expected the job to attempt the run once")
	}
}

func TestJobsExtendOpenEndedLeases(t *testing.T) {
	runner := &billingRunnerStub{today: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)}
	jobs := newTestJobs(runner)

	jobs.ExtendOpenEndedLeases()
	runner.extendErr = errors.New("timeout")
	jobs.ExtendOpenEndedLeases()

	if len(runner.extendAsOf) != 2 {
		t.Fatalf("expected two top-up runs, got %d", len(runner.extendAsOf))
	}
}

func TestSchedulerRegister_RejectsBadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := newTestJobs(&billingRunnerStub{})

	good := config.Config{PenaltyJobSchedule: "15 1 * * *", InstallmentTopUpJobSchedule: "0 2 1 * *", BusinessTimezone: "Africa/Abidjan"}
	if err := NewScheduler(jobs, logger, good).Register(); err != nil {
		t.Fatalf("expected valid schedules to register, got %v", err)
	}

	bad := config.Config{PenaltyJobSchedule: "every night", InstallmentTopUpJobSchedule: "0 2 1 * *"}
	if err := NewScheduler(jobs, logger, bad).Register(); err == nil {
		t.Fatal("expected an invalid cron expression to fail registration")
	}
}
