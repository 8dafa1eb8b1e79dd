package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/angelmondragon/marina-backend/internal/ledger"
	"github.com/angelmondragon/marina-backend/internal/subscriptions"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
)

const paymentTopic = "payment"

// Outcome classifies what a notification did.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
	OutcomeDropped Outcome = "dropped"
	OutcomeFailed  Outcome = "failed"
)

// Notification is a raw provider webhook delivery.
type Notification struct {
	Body  []byte
	Query url.Values
}

type notificationPayload struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	ID     json.RawMessage `json:"id"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// PaymentID extracts the payment id a notification refers to: nested data.id,
// then a flat id, then the data.id or id query parameters.
func (n Notification) PaymentID() string {
	payload := n.payload()
	for _, candidate := range []string{rawID(payload.Data.ID), rawID(payload.ID), n.Query.Get("data.id"), n.Query.Get("id")} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Topic returns the notification topic, empty when the provider sent none.
func (n Notification) Topic() string {
	payload := n.payload()
	for _, candidate := range []string{payload.Type, payload.Topic, n.Query.Get("type"), n.Query.Get("topic")} {
		if trimmed := strings.ToLower(strings.TrimSpace(candidate)); trimmed != "" {
			return trimmed
		}
	}
	if action := strings.ToLower(payload.Action); strings.HasPrefix(action, paymentTopic+".") {
		return paymentTopic
	}
	return ""
}

func (n Notification) payload() notificationPayload {
	var payload notificationPayload
	if len(bytes.TrimSpace(n.Body)) == 0 {
		return payload
	}
	_ = json.Unmarshal(n.Body, &payload)
	return payload
}

func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err == nil {
		return number.String()
	}
	return ""
}

// HandleNotification fetches the authoritative payment behind a webhook and
// applies it to the obligation or subscription named by its external
// reference. Events that cannot be resolved are dropped without error so the
// provider stops retrying; only provider and storage failures are returned.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	outcome, err := s.handle(ctx, n)
	s.metrics.Inc(string(outcome))
	return outcome, err
}

func (s *Service) handle(ctx context.Context, n Notification) (Outcome, error) {
	if topic := n.Topic(); topic != "" && topic != paymentTopic {
		s.logDrop(ctx, "ignoring non-payment notification", map[string]any{"topic": topic})
		return OutcomeIgnored, nil
	}
	paymentID := n.PaymentID()
	if paymentID == "" {
		s.logDrop(ctx, "notification has no payment id", nil)
		return OutcomeDropped, nil
	}
	fields := map[string]any{"provider_payment_id": paymentID}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logDrop(ctx, "payment not found at provider", fields)
			return OutcomeDropped, nil
		}
		return OutcomeFailed, dependency(err, "fetch payment")
	}

	ref, err := mercadopago.ParseReference(payment.ExternalReference)
	if err != nil {
		fields["external_reference"] = payment.ExternalReference
		s.logDrop(ctx, "payment has no usable external reference", fields)
		return OutcomeDropped, nil
	}
	// Statuses outside the known set still reach the ledger as audit notes.
	status := enums.ProviderPaymentStatus(strings.ToLower(strings.TrimSpace(payment.Status)))
	if status == "" {
		s.logDrop(ctx, "payment has no status", fields)
		return OutcomeDropped, nil
	}
	fields["external_reference"] = ref.String()
	fields["provider_status"] = string(status)

	if ref.IsSubscription() {
		changed, err := s.subscriptions.ApplyChargeStatus(ctx, ref.ID, subscriptions.ChargeStatusUpdate{
			ProviderPaymentID: payment.ID,
			Status:            status,
			StatusDetail:      payment.StatusDetail,
			PaidAt:            payment.DateApproved,
		})
		if err != nil {
			return s.unresolved(ctx, err, fields)
		}
		if !changed {
			return OutcomeNoop, nil
		}
		return OutcomeApplied, nil
	}

	kind, err := enums.ParseObligationKind(ref.Prefix)
	if err != nil {
		s.logDrop(ctx, "payment references an unknown obligation kind", fields)
		return OutcomeDropped, nil
	}
	effect, err := s.ledger.ApplyProviderStatus(ctx, ledger.ProviderStatusUpdate{
		Kind:              kind,
		ObligationID:      ref.ID,
		ProviderPaymentID: payment.ID,
		Status:            status,
		StatusDetail:      payment.StatusDetail,
		PaidAt:            payment.DateApproved,
		Metadata:          payment.Raw,
	})
	if err != nil {
		return s.unresolved(ctx, err, fields)
	}
	if effect == ledger.EffectNone {
		return OutcomeNoop, nil
	}
	if s.logg != nil {
		fields["effect"] = string(effect)
		s.logg.Info(s.logg.WithFields(ctx, fields), "provider status applied")
	}
	return OutcomeApplied, nil
}

// unresolved drops notifications whose target does not exist and returns
// everything else so the provider redelivers.
func (s *Service) unresolved(ctx context.Context, err error, fields map[string]any) (Outcome, error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		s.logDrop(ctx, "payment target could not be resolved", fields)
		return OutcomeDropped, nil
	}
	if s.logg != nil {
		s.logg.Error(s.logg.WithFields(ctx, fields), "apply provider status failed", err)
	}
	return OutcomeFailed, err
}

func (s *Service) logDrop(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	if len(fields) > 0 {
		ctx = s.logg.WithFields(ctx, fields)
	}
	s.logg.Warn(ctx, msg)
}
