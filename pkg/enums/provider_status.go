package enums

import "fmt"

// ProviderPaymentStatus is the payment status reported by Mercado Pago.
type ProviderPaymentStatus string

const (
	ProviderStatusPending     ProviderPaymentStatus = "pending"
	ProviderStatusApproved    ProviderPaymentStatus = "approved"
	ProviderStatusAuthorized  ProviderPaymentStatus = "authorized"
	ProviderStatusInProcess   ProviderPaymentStatus = "in_process"
	ProviderStatusInMediation ProviderPaymentStatus = "in_mediation"
	ProviderStatusRejected    ProviderPaymentStatus = "rejected"
	ProviderStatusCancelled   ProviderPaymentStatus = "cancelled"
	ProviderStatusRefunded    ProviderPaymentStatus = "refunded"
	ProviderStatusChargedBack ProviderPaymentStatus = "charged_back"
)

var validProviderStatuses = []ProviderPaymentStatus{
	ProviderStatusPending,
	ProviderStatusApproved,
	ProviderStatusAuthorized,
	ProviderStatusInProcess,
	ProviderStatusInMediation,
	ProviderStatusRejected,
	ProviderStatusCancelled,
	ProviderStatusRefunded,
	ProviderStatusChargedBack,
}

// String implements fmt.Stringer.
func (p ProviderPaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProviderPaymentStatus) IsValid() bool {
	for _, candidate := range validProviderStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProviderPaymentStatus converts raw input into a ProviderPaymentStatus.
func ParseProviderPaymentStatus(value string) (ProviderPaymentStatus, error) {
	for _, candidate := range validProviderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider payment status %q", value)
}

// IsApproved reports whether the provider considers the payment settled.
func (p ProviderPaymentStatus) IsApproved() bool {
	return p == ProviderStatusApproved
}

// IsReversal reports whether the payment failed or a previously settled
// payment has been undone.
func (p ProviderPaymentStatus) IsReversal() bool {
	return p == ProviderStatusRejected || p == ProviderStatusRefunded || p == ProviderStatusChargedBack || p == ProviderStatusCancelled
}

// LiveProviderStatuses are the statuses under which the payer can still complete a charge.
var LiveProviderStatuses = []ProviderPaymentStatus{
	ProviderStatusPending,
	ProviderStatusInProcess,
	ProviderStatusAuthorized,
}

// IsLive reports whether a checkout or charge can still be completed by the payer.
func (p ProviderPaymentStatus) IsLive() bool {
	for _, candidate := range LiveProviderStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}
