package risk

import (
	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// Enforce applies the caller-side policy to a verdict. Rejected verdicts
// yield a RISK_REJECTED error, suspicious ones a VERIFICATION_REQUIRED error,
// approved ones nil.
func Enforce(v *Verdict) error {
	if v == nil {
		return apperrors.RiskRejected(MessageInternalError)
	}

	var appErr *apperrors.AppError
	switch v.Status {
	case StatusApproved:
		return nil
	case StatusSuspicious:
		appErr = apperrors.VerificationRequired(reasonOrMessage(v))
	default:
		appErr = apperrors.RiskRejected(reasonOrMessage(v))
	}

	return appErr.
		WithMetadata("request_id", v.RequestID).
		WithMetadata("risk_level", string(v.OverallRisk)).
		WithMetadata("status", string(v.Status))
}

func reasonOrMessage(v *Verdict) string {
	if v.Reason != nil {
		return *v.Reason
	}
	return v.Message
}
