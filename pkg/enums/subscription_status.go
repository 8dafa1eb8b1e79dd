package enums

import "fmt"

// SubscriptionStatus mirrors the recurring plan enrollment state.
type SubscriptionStatus string

const (
	SubscriptionStatusPending    SubscriptionStatus = "pending"
	SubscriptionStatusAuthorized SubscriptionStatus = "authorized"
	SubscriptionStatusInProcess  SubscriptionStatus = "in_process"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusAuthorized,
	SubscriptionStatusInProcess,
	SubscriptionStatusPaused,
	SubscriptionStatusCancelled,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

// BillableSubscriptionStatuses lists the statuses the billing scheduler charges.
var BillableSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusAuthorized,
	SubscriptionStatusPending,
	SubscriptionStatusInProcess,
}
