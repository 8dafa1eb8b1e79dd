package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marina-backend/internal/ledger"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/metrics"
)

const (
	overdueSweepJobName      = "overdue-sweep"
	marinaFeeRolloverJobName = "marina-fee-rollover"
)

type overdueSweeper interface {
	SweepOverdue(ctx context.Context) (ledger.SweepResult, error)
}

type marinaFeeRoller interface {
	RolloverMarinaFees(ctx context.Context) (int, error)
}

type OverdueSweepJobParams struct {
	Logger  *logger.Logger
	Ledger  overdueSweeper
	Metrics *metrics.CronJobMetrics
}

// NewOverdueSweepJob flips past-due obligations and recomputes member standing.
func NewOverdueSweepJob(params OverdueSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &overdueSweepJob{logg: params.Logger, ledger: params.Ledger, metrics: params.Metrics}, nil
}

type overdueSweepJob struct {
	logg    *logger.Logger
	ledger  overdueSweeper
	metrics *metrics.CronJobMetrics
}

func (j *overdueSweepJob) Name() string { return overdueSweepJobName }

func (j *overdueSweepJob) Run(ctx context.Context) error {
	result, err := j.ledger.SweepOverdue(ctx)
	j.metrics.AddItems(overdueSweepJobName, "flipped", int(result.InstallmentsFlipped+result.FeesFlipped))
	j.metrics.AddItems(overdueSweepJobName, "defaulted", result.AssignmentsDefaulted)
	j.metrics.AddItems(overdueSweepJobName, "recomputed", result.UsersRecomputed)
	j.metrics.AddItems(overdueSweepJobName, "failed", result.Failures)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	return nil
}

type MarinaFeeRolloverJobParams struct {
	Logger  *logger.Logger
	Ledger  marinaFeeRoller
	Metrics *metrics.CronJobMetrics
}

// NewMarinaFeeRolloverJob keeps the marina fee horizon materialized.
func NewMarinaFeeRolloverJob(params MarinaFeeRolloverJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &marinaFeeRolloverJob{logg: params.Logger, ledger: params.Ledger, metrics: params.Metrics}, nil
}

type marinaFeeRolloverJob struct {
	logg    *logger.Logger
	ledger  marinaFeeRoller
	metrics *metrics.CronJobMetrics
}

func (j *marinaFeeRolloverJob) Name() string { return marinaFeeRolloverJobName }

func (j *marinaFeeRolloverJob) Run(ctx context.Context) error {
	created, err := j.ledger.RolloverMarinaFees(ctx)
	j.metrics.AddItems(marinaFeeRolloverJobName, "created", created)
	j.logg.Info(j.logg.WithField(ctx, "fees_created", created), "marina fee rollover complete")
	if err != nil {
		return fmt.Errorf("marina fee rollover: %w", err)
	}
	return nil
}
