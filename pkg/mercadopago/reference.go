package mercadopago

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SubscriptionReferencePrefix marks recurring subscription charges.
const SubscriptionReferencePrefix = "subscription_payment"

// Reference is a parsed external_reference of the form "<prefix>:<uuid>".
type Reference struct {
	Prefix string
	ID     uuid.UUID
}

// IsSubscription reports whether the reference points at a subscription.
func (r Reference) IsSubscription() bool {
	return r.Prefix == SubscriptionReferencePrefix
}

// String renders the reference in wire format.
func (r Reference) String() string {
	return FormatReference(r.Prefix, r.ID)
}

// FormatReference renders "<prefix>:<id>".
func FormatReference(prefix string, id uuid.UUID) string {
	return prefix + ":" + id.String()
}

// ParseReference splits an external reference on its first colon.
func ParseReference(raw string) (Reference, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || prefix == "" || rest == "" {
		return Reference{}, fmt.Errorf("malformed external reference %q", raw)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return Reference{}, fmt.Errorf("external reference %q: %w", raw, err)
	}
	return Reference{Prefix: strings.ToLower(prefix), ID: id}, nil
}
