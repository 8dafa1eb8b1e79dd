// Package reconciliation connects payment obligations to Mercado Pago: it opens
// checkouts and PIX charges and applies the provider's payment notifications.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/internal/ledger"
	"github.com/angelmondragon/marina-backend/internal/subscriptions"
	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/metrics"
)

const (
	defaultGuardTTL  = 30 * time.Second
	defaultPixExpiry = 72 * time.Hour
	guardScope       = "checkout"
)

type provider interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	CreatePixPayment(ctx context.Context, req mercadopago.PixRequest) (*mercadopago.PixCharge, error)
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

type ledgerEngine interface {
	Describe(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*ledger.ObligationDetail, error)
	RecordCheckout(ctx context.Context, kind enums.ObligationKind, id uuid.UUID, link ledger.CheckoutLink) error
	ApplyProviderStatus(ctx context.Context, update ledger.ProviderStatusUpdate) (ledger.Effect, error)
}

type subscriptionEngine interface {
	ApplyChargeStatus(ctx context.Context, id uuid.UUID, update subscriptions.ChargeStatusUpdate) (bool, error)
}

// checkoutGuard is the in-flight lock taken while a checkout is being created.
type checkoutGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	GuardKey(scope, id string) string
}

// ServiceParams groups dependencies for the reconciliation service.
type ServiceParams struct {
	Provider      provider
	Ledger        ledgerEngine
	Subscriptions subscriptionEngine
	Guard         checkoutGuard
	Metrics       *metrics.ReconciliationMetrics
	Logger        *logger.Logger
	Config        config.MercadoPagoConfig
	Clock         func() time.Time
}

// Service creates provider checkouts and reconciles provider notifications.
type Service struct {
	provider      provider
	ledger        ledgerEngine
	subscriptions subscriptionEngine
	guard         checkoutGuard
	metrics       *metrics.ReconciliationMetrics
	logg          *logger.Logger
	cfg           config.MercadoPagoConfig
	now           func() time.Time
}

// NewService validates dependencies and builds the service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, errors.New("payment provider required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger engine required")
	}
	if params.Subscriptions == nil {
		return nil, errors.New("subscription engine required")
	}
	cfg := params.Config
	if cfg.CheckoutGuard <= 0 {
		cfg.CheckoutGuard = defaultGuardTTL
	}
	if cfg.PixExpiry <= 0 {
		cfg.PixExpiry = defaultPixExpiry
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		provider:      params.Provider,
		ledger:        params.Ledger,
		subscriptions: params.Subscriptions,
		guard:         params.Guard,
		metrics:       params.Metrics,
		logg:          params.Logger,
		cfg:           cfg,
		now:           clock,
	}, nil
}

// Checkout is a payable provider session for one obligation.
type Checkout struct {
	Kind         enums.ObligationKind `json:"kind"`
	ObligationID uuid.UUID            `json:"obligation_id"`
	Reference    string               `json:"external_reference"`
	PreferenceID string               `json:"preference_id,omitempty"`
	PaymentID    string               `json:"payment_id,omitempty"`
	CheckoutURL  string               `json:"checkout_url,omitempty"`
	QRCode       string               `json:"qr_code,omitempty"`
	QRCodeBase64 string               `json:"qr_code_base64,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	Reused       bool                 `json:"reused"`
}

type pixMetadata struct {
	QRCode       string     `json:"qr_code"`
	QRCodeBase64 string     `json:"qr_code_base64"`
	TicketURL    string     `json:"ticket_url"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// CreateCheckout opens a hosted checkout for an obligation, or returns the
// live one it already has.
func (s *Service) CreateCheckout(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*Checkout, error) {
	detail, err := s.payable(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	obligation := detail.Obligation
	if obligation.HasLiveCheckout() && obligation.ProviderCheckoutURL != nil {
		return existingCheckout(obligation), nil
	}

	release, err := s.acquire(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	defer release()

	reference := mercadopago.FormatReference(string(kind), id)
	pref, err := s.provider.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: []mercadopago.Item{{
			ID:        id.String(),
			Title:     obligation.Title(),
			Quantity:  1,
			UnitPrice: obligation.Amount,
		}},
		Payer: mercadopago.Payer{Email: detail.User.Email, Name: detail.User.Name},
		BackURLs: mercadopago.BackURLs{
			Success: s.cfg.SuccessURL,
			Failure: s.cfg.FailureURL,
			Pending: s.cfg.PendingURL,
		},
		ExternalReference: reference,
		NotificationURL:   s.cfg.NotificationURL,
		Metadata: map[string]any{
			"obligation_kind": string(kind),
			"obligation_id":   id.String(),
			"user_vessel_id":  obligation.UserVesselID.String(),
		},
	})
	if err != nil {
		return nil, dependency(err, "create checkout preference")
	}

	if err := s.ledger.RecordCheckout(ctx, kind, id, ledger.CheckoutLink{
		PreferenceID: pref.ID,
		CheckoutURL:  pref.InitPoint,
		Status:       enums.ProviderStatusPending,
	}); err != nil {
		return nil, err
	}
	s.logCheckout(ctx, kind, id, "checkout created")
	return &Checkout{
		Kind:         kind,
		ObligationID: id,
		Reference:    reference,
		PreferenceID: pref.ID,
		CheckoutURL:  pref.InitPoint,
	}, nil
}

// CreatePixCharge issues a PIX QR charge for an obligation, or returns the
// unexpired one it already has.
func (s *Service) CreatePixCharge(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*Checkout, error) {
	detail, err := s.payable(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	obligation := detail.Obligation
	now := s.now().UTC()
	if obligation.HasLiveCheckout() && obligation.ProviderPaymentID != nil {
		if meta, ok := decodePix(obligation.ProviderMetadata); ok && meta.ExpiresAt != nil && meta.ExpiresAt.After(now) {
			return existingCheckout(obligation), nil
		}
	}

	release, err := s.acquire(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	defer release()

	reference := mercadopago.FormatReference(string(kind), id)
	charge, err := s.provider.CreatePixPayment(ctx, mercadopago.PixRequest{
		Amount:            obligation.Amount,
		Description:       obligation.Title(),
		Payer:             mercadopago.Payer{Email: detail.User.Email, Name: detail.User.Name},
		ExternalReference: reference,
		NotificationURL:   s.cfg.NotificationURL,
		ExpiresAt:         now.Add(s.cfg.PixExpiry),
	})
	if err != nil {
		return nil, dependency(err, "create pix charge")
	}

	meta, err := json.Marshal(pixMetadata{
		QRCode:       charge.QRCode,
		QRCodeBase64: charge.QRCodeBase64,
		TicketURL:    charge.TicketURL,
		ExpiresAt:    charge.ExpiresAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pix metadata")
	}
	status, parseErr := enums.ParseProviderPaymentStatus(charge.Status)
	if parseErr != nil {
		status = enums.ProviderStatusPending
	}
	if err := s.ledger.RecordCheckout(ctx, kind, id, ledger.CheckoutLink{
		PaymentID:   charge.ID,
		CheckoutURL: charge.TicketURL,
		Status:      status,
		Metadata:    meta,
	}); err != nil {
		return nil, err
	}
	s.logCheckout(ctx, kind, id, "pix charge created")
	return &Checkout{
		Kind:         kind,
		ObligationID: id,
		Reference:    reference,
		PaymentID:    charge.ID,
		CheckoutURL:  charge.TicketURL,
		QRCode:       charge.QRCode,
		QRCodeBase64: charge.QRCodeBase64,
		ExpiresAt:    charge.ExpiresAt,
	}, nil
}

func (s *Service) payable(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*ledger.ObligationDetail, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "obligation id is required")
	}
	detail, err := s.ledger.Describe(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if detail.Obligation.Status == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "obligation already paid")
	}
	if strings.TrimSpace(detail.User.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member has no email for checkout")
	}
	return detail, nil
}

// acquire takes the in-flight guard for an obligation. Without a guard store
// it is a no-op.
func (s *Service) acquire(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	key := s.guard.GuardKey(guardScope, string(kind)+":"+id.String())
	ok, err := s.guard.SetNX(ctx, key, "1", s.cfg.CheckoutGuard)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire checkout guard")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout already in progress")
	}
	return func() {
		if err := s.guard.Del(context.Background(), key); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "guard_key", key), "release checkout guard failed", err)
		}
	}, nil
}

func (s *Service) logCheckout(ctx context.Context, kind enums.ObligationKind, id uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"obligation_kind": string(kind),
		"obligation_id":   id.String(),
	})
	s.logg.Info(logCtx, msg)
}

func existingCheckout(obligation *ledger.Obligation) *Checkout {
	checkout := &Checkout{
		Kind:         obligation.Kind,
		ObligationID: obligation.ID,
		Reference:    mercadopago.FormatReference(string(obligation.Kind), obligation.ID),
		PreferenceID: deref(obligation.ProviderPreferenceID),
		PaymentID:    deref(obligation.ProviderPaymentID),
		CheckoutURL:  deref(obligation.ProviderCheckoutURL),
		Reused:       true,
	}
	if meta, ok := decodePix(obligation.ProviderMetadata); ok {
		checkout.QRCode = meta.QRCode
		checkout.QRCodeBase64 = meta.QRCodeBase64
		checkout.ExpiresAt = meta.ExpiresAt
	}
	return checkout
}

func decodePix(raw json.RawMessage) (pixMetadata, bool) {
	var meta pixMetadata
	if len(raw) == 0 {
		return meta, false
	}
	if err := json.Unmarshal(raw, &meta); err != nil || meta.QRCode == "" {
		return meta, false
	}
	return meta, true
}

func dependency(err error, op string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
