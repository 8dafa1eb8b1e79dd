// Package mercadopagowebhook authenticates Mercado Pago webhook deliveries and
// hands them to the reconciliation adapter.
package mercadopagowebhook

import (
	"context"
	"net/url"
	"strings"

	"github.com/angelmondragon/marina-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
)

type notificationHandler interface {
	HandleNotification(ctx context.Context, n reconciliation.Notification) (reconciliation.Outcome, error)
}

// Delivery is one webhook request as received.
type Delivery struct {
	Body      []byte
	Query     url.Values
	Signature string
	RequestID string
}

type ServiceParams struct {
	Reconciler      notificationHandler
	Secret          string
	VerifySignature bool
	Logger          *logger.Logger
}

type Service struct {
	reconciler notificationHandler
	secret     string
	verify     bool
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service required")
	}
	if params.VerifySignature && strings.TrimSpace(params.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required when signature verification is enabled")
	}
	return &Service{
		reconciler: params.Reconciler,
		secret:     params.Secret,
		verify:     params.VerifySignature,
		logg:       params.Logger,
	}, nil
}

// Handle verifies the delivery signature when enabled, then reconciles it.
func (s *Service) Handle(ctx context.Context, d Delivery) (reconciliation.Outcome, error) {
	notification := reconciliation.Notification{Body: d.Body, Query: d.Query}
	if s.verify {
		dataID := d.Query.Get("data.id")
		if dataID == "" {
			dataID = notification.PaymentID()
		}
		if err := mercadopago.VerifySignature(s.secret, d.Signature, d.RequestID, dataID); err != nil {
			return reconciliation.OutcomeDropped, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature")
		}
	}
	outcome, err := s.reconciler.HandleNotification(ctx, notification)
	if err != nil {
		return outcome, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "outcome", string(outcome)), "mercado pago notification handled")
	}
	return outcome, nil
}
