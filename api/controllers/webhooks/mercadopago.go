package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/marina-backend/api/responses"
	"github.com/angelmondragon/marina-backend/internal/reconciliation"
	mercadopagowebhook "github.com/angelmondragon/marina-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type MercadoPagoWebhookService interface {
	Handle(ctx context.Context, d mercadopagowebhook.Delivery) (reconciliation.Outcome, error)
}

type MercadoPagoWebhookGuard interface {
	CheckAndMark(ctx context.Context, requestID string) (bool, error)
	Delete(ctx context.Context, requestID string) error
}

// MercadoPagoWebhook acknowledges every delivery it resolved or chose to drop.
// Provider and storage failures answer non-2xx so the provider redelivers.
func MercadoPagoWebhook(svc MercadoPagoWebhookService, guard MercadoPagoWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		requestID := r.Header.Get("x-request-id")
		if guard != nil && requestID != "" {
			alreadyProcessed, err := guard.CheckAndMark(ctx, requestID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if alreadyProcessed {
				responses.WriteSuccess(w, map[string]string{"outcome": "duplicate"})
				return
			}
		}

		outcome, err := svc.Handle(ctx, mercadopagowebhook.Delivery{
			Body:      payload,
			Query:     r.URL.Query(),
			Signature: r.Header.Get("x-signature"),
			RequestID: requestID,
		})
		if err != nil {
			if guard != nil && requestID != "" {
				if delErr := guard.Delete(ctx, requestID); delErr != nil && logg != nil {
					logg.Warn(ctx, "failed to release webhook idempotency key")
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
