package booking

import (
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
)

// RejectionReason names the admission rule a booking request failed.
type RejectionReason string

const (
	ReasonNotAssigned RejectionReason = "not_assigned"
	ReasonStanding    RejectionReason = "standing"
	ReasonLeadTime    RejectionReason = "lead_time"
	ReasonPastDate    RejectionReason = "past_date"
	ReasonHorizon     RejectionReason = "horizon"
	ReasonBlockedDate RejectionReason = "blocked_date"
	ReasonWeeklyBlock RejectionReason = "weekly_block"
	ReasonSlotTaken   RejectionReason = "slot_taken"
	ReasonQuota       RejectionReason = "quota"
)

var reasonCodes = map[RejectionReason]pkgerrors.Code{
	ReasonNotAssigned: pkgerrors.CodeForbidden,
	ReasonStanding:    pkgerrors.CodeStandingRejected,
	ReasonLeadTime:    pkgerrors.CodeValidation,
	ReasonPastDate:    pkgerrors.CodeValidation,
	ReasonHorizon:     pkgerrors.CodeValidation,
	ReasonBlockedDate: pkgerrors.CodeConflict,
	ReasonWeeklyBlock: pkgerrors.CodeConflict,
	ReasonSlotTaken:   pkgerrors.CodeConflict,
	ReasonQuota:       pkgerrors.CodeConflict,
}

func reject(reason RejectionReason, message string, details map[string]any) *pkgerrors.Error {
	code, ok := reasonCodes[reason]
	if !ok {
		code = pkgerrors.CodeValidation
	}
	payload := map[string]any{"reason": string(reason)}
	for k, v := range details {
		payload[k] = v
	}
	return pkgerrors.New(code, message).WithDetails(payload)
}

// RejectionReasonOf extracts the admission rule from a booking error, or ""
// when err is not a booking rejection.
func RejectionReasonOf(err error) RejectionReason {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	raw, ok := details["reason"].(string)
	if !ok {
		return ""
	}
	return RejectionReason(raw)
}
