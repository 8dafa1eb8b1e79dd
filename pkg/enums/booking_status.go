package enums

import "fmt"

// BookingStatus tracks the lifecycle of a single-day vessel reservation.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

var validBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusApproved,
	BookingStatusCancelled,
	BookingStatusCompleted,
}

// String implements fmt.Stringer.
func (b BookingStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BookingStatus) IsValid() bool {
	for _, candidate := range validBookingStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBookingStatus converts raw input into a BookingStatus.
func ParseBookingStatus(value string) (BookingStatus, error) {
	for _, candidate := range validBookingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid booking status %q", value)
}

// ActiveBookingStatuses lists the statuses that occupy a calendar slot and count
// toward a member's quota.
var ActiveBookingStatuses = []BookingStatus{BookingStatusPending, BookingStatusApproved}

// IsActive reports whether the booking still holds its slot.
func (b BookingStatus) IsActive() bool {
	return b == BookingStatusPending || b == BookingStatusApproved
}
