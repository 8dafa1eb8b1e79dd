package enums

import "fmt"

// BlockReason explains why a date range is closed for bookings.
type BlockReason string

const (
	BlockReasonMaintenance BlockReason = "maintenance"
	BlockReasonLottery     BlockReason = "lottery"
	BlockReasonEvent       BlockReason = "event"
	BlockReasonOther       BlockReason = "other"
)

var validBlockReasons = []BlockReason{
	BlockReasonMaintenance,
	BlockReasonLottery,
	BlockReasonEvent,
	BlockReasonOther,
}

// String implements fmt.Stringer.
func (b BlockReason) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BlockReason) IsValid() bool {
	for _, candidate := range validBlockReasons {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBlockReason converts raw input into a BlockReason.
func ParseBlockReason(value string) (BlockReason, error) {
	for _, candidate := range validBlockReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid block reason %q", value)
}
