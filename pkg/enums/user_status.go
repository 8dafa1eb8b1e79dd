package enums

import "fmt"

// UserStatus is the member's financial standing.
type UserStatus string

const (
	UserStatusActive         UserStatus = "active"
	UserStatusOverdue        UserStatus = "overdue"
	UserStatusOverduePayment UserStatus = "overdue_payment"
	UserStatusBlocked        UserStatus = "blocked"
)

var validUserStatuses = []UserStatus{
	UserStatusActive,
	UserStatusOverdue,
	UserStatusOverduePayment,
	UserStatusBlocked,
}

// String implements fmt.Stringer.
func (u UserStatus) String() string {
	return string(u)
}

// IsValid reports whether the value is known.
func (u UserStatus) IsValid() bool {
	for _, candidate := range validUserStatuses {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUserStatus converts raw input into a UserStatus.
func ParseUserStatus(value string) (UserStatus, error) {
	for _, candidate := range validUserStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user status %q", value)
}

// AllowsBooking reports whether members in this standing may reserve dates.
func (u UserStatus) AllowsBooking() bool {
	return u == UserStatusActive
}
