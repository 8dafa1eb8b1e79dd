package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("test-token", WithBaseURL("http://mp.test"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestCreatePreference(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "http://mp.test/checkout/preferences" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		if req.Header.Get("Authorization") != "Bearer test-token" {
			t.Fatalf("missing bearer token")
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusCreated, `{"id":"pref-123","init_point":"https://mp.test/init/pref-123"}`), nil
	})

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items:             []Item{{ID: "i-1", Title: "Installment #1", UnitPrice: decimal.RequireFromString("500.5")}},
		Payer:             Payer{Email: "member@example.com", Name: "Member"},
		BackURLs:          BackURLs{Success: "https://app/ok", Failure: "https://app/fail", Pending: "https://app/pending"},
		ExternalReference: "installment:abc",
		NotificationURL:   "https://api/webhooks/mercadopago",
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "pref-123" || pref.InitPoint == "" {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if captured["external_reference"] != "installment:abc" {
		t.Fatalf("unexpected external reference %v", captured["external_reference"])
	}
	items := captured["items"].([]any)
	item := items[0].(map[string]any)
	if item["unit_price"].(float64) != 500.5 || item["quantity"].(float64) != 1 || item["currency_id"] != "BRL" {
		t.Fatalf("unexpected item %+v", item)
	}
	if captured["auto_return"] != "approved" {
		t.Fatalf("expected auto_return")
	}
}

func TestCreatePreferenceValidation(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := client.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetPayment(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/payments/123456" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"id":123456,"status":"approved","status_detail":"accredited","external_reference":"marina:9f1c","transaction_amount":250.75,"date_approved":"2024-01-10T13:05:00.000-04:00"}`), nil
	})

	payment, err := client.GetPayment(context.Background(), "123456")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.ID != "123456" || payment.Status != "approved" || payment.StatusDetail != "accredited" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.ExternalReference != "marina:9f1c" || payment.Amount.StringFixed(2) != "250.75" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	want := time.Date(2024, 1, 10, 17, 5, 0, 0, time.UTC)
	if payment.DateApproved == nil || !payment.DateApproved.Equal(want) {
		t.Fatalf("unexpected approval date %v", payment.DateApproved)
	}
	if len(payment.Raw) == 0 {
		t.Fatalf("expected raw payload")
	}
}

func TestGetPaymentErrors(t *testing.T) {
	status := http.StatusNotFound
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(status, `{"message":"nope"}`), nil
	})

	_, err := client.GetPayment(context.Background(), "1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	status = http.StatusInternalServerError
	_, err = client.GetPayment(context.Background(), "1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestCreatePixPayment(t *testing.T) {
	expires := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("X-Idempotency-Key") != "sub-1-2024-02" {
			t.Fatalf("missing idempotency key")
		}
		var body map[string]any
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		if body["payment_method_id"] != "pix" || body["transaction_amount"].(float64) != 99.9 {
			t.Fatalf("unexpected body %+v", body)
		}
		if body["date_of_expiration"] != "2024-02-01T12:00:00.000Z" {
			t.Fatalf("unexpected expiration %v", body["date_of_expiration"])
		}
		return jsonResponse(http.StatusCreated, `{"id":"987","status":"pending","status_detail":"pending_waiting_transfer","point_of_interaction":{"transaction_data":{"qr_code":"000201...","qr_code_base64":"iVBOR...","ticket_url":"https://mp.test/ticket"}}}`), nil
	})

	charge, err := client.CreatePixPayment(context.Background(), PixRequest{
		Amount:            decimal.RequireFromString("99.90"),
		Description:       "Membership",
		Payer:             Payer{Email: "member@example.com"},
		ExternalReference: "subscription_payment:abc",
		ExpiresAt:         expires,
		IdempotencyKey:    "sub-1-2024-02",
	})
	if err != nil {
		t.Fatalf("create pix: %v", err)
	}
	if charge.ID != "987" || charge.Status != "pending" || charge.QRCode == "" {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if charge.ExpiresAt == nil || !charge.ExpiresAt.Equal(expires) {
		t.Fatalf("expected fallback expiry, got %v", charge.ExpiresAt)
	}
}

func TestVerifySignature(t *testing.T) {
	const secret = "shh"
	sig := Sign(secret, "id:12345;request-id:req-1;ts:1700000000;")
	header := "ts=1700000000,v1=" + sig

	if err := VerifySignature(secret, header, "req-1", "12345"); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := VerifySignature(secret, header, "req-2", "12345"); err != ErrSignatureMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := VerifySignature(secret, "", "req-1", "12345"); err != ErrSignatureMissing {
		t.Fatalf("expected missing, got %v", err)
	}
	if err := VerifySignature(secret, "v1=abc", "req-1", "12345"); err != ErrSignatureMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestManifestLowercasesID(t *testing.T) {
	if got := Manifest("ABC", "", "1"); got != "id:abc;ts:1;" {
		t.Fatalf("unexpected manifest %q", got)
	}
}
