package enums

import "fmt"

// ObligationKind identifies which ledger table an obligation lives in.
type ObligationKind string

const (
	ObligationInstallment ObligationKind = "installment"
	ObligationMarinaFee   ObligationKind = "marina"
	ObligationAdHoc       ObligationKind = "adhoc"
)

var validObligationKinds = []ObligationKind{
	ObligationInstallment,
	ObligationMarinaFee,
	ObligationAdHoc,
}

// String implements fmt.Stringer.
func (o ObligationKind) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o ObligationKind) IsValid() bool {
	for _, candidate := range validObligationKinds {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseObligationKind converts raw input into a ObligationKind.
func ParseObligationKind(value string) (ObligationKind, error) {
	for _, candidate := range validObligationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid obligation kind %q", value)
}

// TableName returns the table backing the obligation kind.
func (o ObligationKind) TableName() string {
	switch o {
	case ObligationInstallment:
		return "installments"
	case ObligationMarinaFee:
		return "marina_payments"
	case ObligationAdHoc:
		return "ad_hoc_charges"
	default:
		return ""
	}
}
