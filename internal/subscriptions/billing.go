package subscriptions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

// BillingResult summarizes one scheduler pass. Failures aggregates the
// per-subscription errors; a failing subscription never stops the pass.
type BillingResult struct {
	Considered int
	Issued     int
	Skipped    int
	Failed     int
	Failures   error
}

// RunBilling issues a PIX charge for every due subscription that has no live
// charge yet.
func (s *service) RunBilling(ctx context.Context) (BillingResult, error) {
	var result BillingResult
	now := s.now().UTC()
	subs, err := s.repo.ListDueSubscriptions(ctx, now, s.batchLimit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}

	for i := range subs {
		sub := subs[i]
		result.Considered++
		if hasLiveCharge(sub, now) {
			result.Skipped++
			continue
		}
		if err := s.issueCharge(ctx, sub, now); err != nil {
			result.Failed++
			result.Failures = multierr.Append(result.Failures, fmt.Errorf("subscription %s: %w", sub.ID, err))
			if s.logg != nil {
				s.logg.Error(s.logg.WithField(ctx, "subscription_id", sub.ID.String()), "issue subscription charge failed", err)
			}
			continue
		}
		result.Issued++
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"considered": result.Considered,
			"issued":     result.Issued,
			"skipped":    result.Skipped,
			"failed":     result.Failed,
		})
		s.logg.Info(logCtx, "subscription billing completed")
	}
	return result, nil
}

func (s *service) issueCharge(ctx context.Context, sub models.Subscription, now time.Time) error {
	if sub.Plan == nil || sub.NextChargeDate == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "subscription is missing its plan or charge date")
	}
	user, err := s.repo.FindUser(ctx, sub.UserID)
	if err != nil {
		return notFoundOr(err, "user not found", "load user")
	}

	breakdown := ComputeCharge(*sub.Plan, *sub.NextChargeDate, now)
	charge, err := s.provider.CreatePixPayment(ctx, mercadopago.PixRequest{
		Amount:            breakdown.Total,
		Description:       sub.Plan.Name,
		Payer:             mercadopago.Payer{Email: user.Email, Name: user.Name},
		ExternalReference: mercadopago.FormatReference(mercadopago.SubscriptionReferencePrefix, sub.ID),
		NotificationURL:   s.notificationURL,
		ExpiresAt:         now.Add(s.pixExpiry),
		IdempotencyKey:    fmt.Sprintf("%s-%s-%s", sub.ID, sub.NextChargeDate.Format("20060102"), now.Format("20060102")),
	})
	if err != nil {
		return err
	}
	breakdown.ProviderPaymentID = charge.ID
	status := charge.Status
	if status == "" {
		status = string(enums.ProviderStatusPending)
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockSubscription(ctx, sub.ID)
		if err != nil {
			return notFoundOr(err, "subscription not found", "load subscription")
		}
		meta := decodeMetadata(locked.Metadata)
		if meta.CurrentCharge != nil {
			meta.close(enums.ChargeStatusCancelled, deref(locked.ProviderPaymentID), now)
		}
		meta.CurrentCharge = &breakdown
		encoded, err := meta.encode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
		}
		if err := repo.UpdateSubscription(ctx, sub.ID, map[string]any{
			"provider_payment_id":         charge.ID,
			"provider_payment_status":     status,
			"provider_payment_expires_at": charge.ExpiresAt,
			"metadata":                    encoded,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store subscription charge")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionChargeIssued,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Data: payloads.SubscriptionChargeIssuedEvent{
				SubscriptionID:    sub.ID,
				UserID:            sub.UserID,
				Amount:            breakdown.Total.StringFixed(2),
				ProviderPaymentID: charge.ID,
				ExpiresAt:         charge.ExpiresAt,
			},
		})
	})
}

// hasLiveCharge reports whether the current provider charge can still be paid.
func hasLiveCharge(sub models.Subscription, now time.Time) bool {
	if sub.ProviderPaymentID == nil || sub.ProviderPaymentStatus == nil {
		return false
	}
	if !enums.ProviderPaymentStatus(*sub.ProviderPaymentStatus).IsLive() {
		return false
	}
	return sub.ProviderPaymentExpiresAt != nil && sub.ProviderPaymentExpiresAt.After(now)
}
