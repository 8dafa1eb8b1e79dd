package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marina-backend/internal/subscriptions"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/metrics"
)

const subscriptionBillingJobName = "subscription-billing"

type billingRunner interface {
	RunBilling(ctx context.Context) (subscriptions.BillingResult, error)
}

type SubscriptionBillingJobParams struct {
	Logger  *logger.Logger
	Billing billingRunner
	Metrics *metrics.CronJobMetrics
}

// NewSubscriptionBillingJob issues PIX charges for due subscriptions.
func NewSubscriptionBillingJob(params SubscriptionBillingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &subscriptionBillingJob{logg: params.Logger, billing: params.Billing, metrics: params.Metrics}, nil
}

type subscriptionBillingJob struct {
	logg    *logger.Logger
	billing billingRunner
	metrics *metrics.CronJobMetrics
}

func (j *subscriptionBillingJob) Name() string { return subscriptionBillingJobName }

// Run fails the job when any charge failed so the failure counter moves, but
// every due subscription has been attempted by then.
func (j *subscriptionBillingJob) Run(ctx context.Context) error {
	result, err := j.billing.RunBilling(ctx)
	if err != nil {
		return fmt.Errorf("subscription billing: %w", err)
	}
	j.metrics.AddItems(subscriptionBillingJobName, "issued", result.Issued)
	j.metrics.AddItems(subscriptionBillingJobName, "skipped", result.Skipped)
	j.metrics.AddItems(subscriptionBillingJobName, "failed", result.Failed)
	if result.Failures != nil {
		return fmt.Errorf("subscription billing: %d of %d charges failed: %w", result.Failed, result.Considered, result.Failures)
	}
	return nil
}
