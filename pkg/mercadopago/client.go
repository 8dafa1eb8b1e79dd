// Package mercadopago is a minimal REST client for the Mercado Pago checkout
// and payments APIs.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	defaultCurrency             = "BRL"
	responseBodyReadLimit int64 = 2048
	expirationLayout            = "2006-01-02T15:04:05.000Z07:00"
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client calls the Mercado Pago REST API with a seller access token.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	currency    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the HTTP timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the Mercado Pago client given an access token.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(accessToken)
	if trimmed == "" {
		return nil, errAccessTokenRequired
	}
	client := &Client{
		accessToken: trimmed,
		baseURL:     defaultBaseURL,
		currency:    defaultCurrency,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Item is one line of a checkout preference.
type Item struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Payer identifies who is paying.
type Payer struct {
	Email string
	Name  string
}

// BackURLs are the pages the payer returns to after checkout.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest describes a hosted checkout.
type PreferenceRequest struct {
	Items             []Item
	Payer             Payer
	BackURLs          BackURLs
	ExternalReference string
	NotificationURL   string
	Metadata          map[string]any
}

// Preference is a created hosted checkout.
type Preference struct {
	ID        string
	InitPoint string
}

// Payment is the authoritative record of a payment attempt.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	DateApproved      *time.Time
	Raw               json.RawMessage
}

// PixRequest asks for an instant-payment QR charge.
type PixRequest struct {
	Amount            decimal.Decimal
	Description       string
	Payer             Payer
	ExternalReference string
	NotificationURL   string
	ExpiresAt         time.Time
	IdempotencyKey    string
}

// PixCharge is a created PIX payment with its QR data.
type PixCharge struct {
	ID           string
	Status       string
	StatusDetail string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
	ExpiresAt    *time.Time
	Raw          json.RawMessage
}

// CreatePreference creates a hosted checkout preference.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout requires at least one item")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	type apiItem struct {
		ID         string      `json:"id,omitempty"`
		Title      string      `json:"title"`
		Quantity   int         `json:"quantity"`
		UnitPrice  json.Number `json:"unit_price"`
		CurrencyID string      `json:"currency_id"`
	}
	items := make([]apiItem, 0, len(req.Items))
	for _, item := range req.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, apiItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   qty,
			UnitPrice:  json.Number(item.UnitPrice.StringFixed(2)),
			CurrencyID: c.currency,
		})
	}
	body := map[string]any{
		"items":              items,
		"external_reference": req.ExternalReference,
	}
	if req.Payer.Email != "" || req.Payer.Name != "" {
		body["payer"] = map[string]string{"email": req.Payer.Email, "name": req.Payer.Name}
	}
	if req.BackURLs.Success != "" {
		body["back_urls"] = map[string]string{
			"success": req.BackURLs.Success,
			"failure": req.BackURLs.Failure,
			"pending": req.BackURLs.Pending,
		}
		body["auto_return"] = "approved"
	}
	if req.NotificationURL != "" {
		body["notification_url"] = req.NotificationURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, "", &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout preference response missing id")
	}
	return &Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var resp paymentResponse
	raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(trimmed), nil, "", &resp)
	if err != nil {
		return nil, err
	}
	payment := &Payment{
		ID:                string(resp.ID),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		Amount:            resp.TransactionAmount,
		Raw:               raw,
	}
	if resp.DateApproved != nil && *resp.DateApproved != "" {
		if ts, err := time.Parse(time.RFC3339, *resp.DateApproved); err == nil {
			utc := ts.UTC()
			payment.DateApproved = &utc
		}
	}
	return payment, nil
}

// CreatePixPayment creates a PIX charge that expires at req.ExpiresAt.
func (c *Client) CreatePixPayment(ctx context.Context, req PixRequest) (*PixCharge, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pix amount must be greater than zero")
	}
	if strings.TrimSpace(req.Payer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer email is required")
	}

	body := map[string]any{
		"transaction_amount": json.Number(req.Amount.StringFixed(2)),
		"description":        req.Description,
		"payment_method_id":  "pix",
		"payer":              map[string]string{"email": req.Payer.Email, "first_name": req.Payer.Name},
		"external_reference": req.ExternalReference,
	}
	if req.NotificationURL != "" {
		body["notification_url"] = req.NotificationURL
	}
	if !req.ExpiresAt.IsZero() {
		body["date_of_expiration"] = req.ExpiresAt.Format(expirationLayout)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var resp paymentResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/payments", body, key, &resp)
	if err != nil {
		return nil, err
	}
	charge := &PixCharge{
		ID:           string(resp.ID),
		Status:       resp.Status,
		StatusDetail: resp.StatusDetail,
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    resp.PointOfInteraction.TransactionData.TicketURL,
		Raw:          raw,
	}
	if resp.DateOfExpiration != nil && *resp.DateOfExpiration != "" {
		if ts, err := time.Parse(expirationLayout, *resp.DateOfExpiration); err == nil {
			utc := ts.UTC()
			charge.ExpiresAt = &utc
		}
	}
	if charge.ExpiresAt == nil && !req.ExpiresAt.IsZero() {
		utc := req.ExpiresAt.UTC()
		charge.ExpiresAt = &utc
	}
	return charge, nil
}

type paymentResponse struct {
	ID                 flexibleID      `json:"id"`
	Status             string          `json:"status"`
	StatusDetail       string          `json:"status_detail"`
	ExternalReference  string          `json:"external_reference"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	DateApproved       *string         `json:"date_approved"`
	DateOfExpiration   *string         `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// flexibleID accepts ids encoded as JSON numbers or strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mercado pago request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mercado pago request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mercado pago request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "mercado pago resource not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "mercado pago request failed")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read mercado pago response")
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode mercado pago response")
		}
	}
	return json.RawMessage(raw), nil
}
