package enums

import "fmt"

// FrequencyType is the unit of a subscription plan cadence.
type FrequencyType string

const (
	FrequencyDays   FrequencyType = "days"
	FrequencyMonths FrequencyType = "months"
)

var validFrequencyTypes = []FrequencyType{
	FrequencyDays,
	FrequencyMonths,
}

// String implements fmt.Stringer.
func (f FrequencyType) String() string {
	return string(f)
}

// IsValid reports whether the value is known.
func (f FrequencyType) IsValid() bool {
	for _, candidate := range validFrequencyTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFrequencyType converts raw input into a FrequencyType.
func ParseFrequencyType(value string) (FrequencyType, error) {
	for _, candidate := range validFrequencyTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid frequency type %q", value)
}
