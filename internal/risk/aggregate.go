package risk

// Cumulative weight thresholds for the overall risk tier
const (
	MediumWeightThreshold   = 2
	HighWeightThreshold     = 5
	CriticalWeightThreshold = 8
)

// Verdict messages
const (
	MessageRejected      = "Multiple critical security checks failed"
	MessageSuspicious    = "Suspicious activity detected - requires additional verification"
	MessageMinorAlerts   = "Approved with minor security alerts"
	MessageApproved      = "Approved without security issues"
	MessageInternalError = "Internal error processing request"
)

// Assessment is the aggregated outcome of a set of checks
type Assessment struct {
	RiskLevel   RiskLevel
	Status      Status
	Approved    bool
	Message     string
	Reason      *string
	TotalWeight int
}

// Aggregate combines triggered checks into an overall tier and status.
// A single critical check or a total weight of CriticalWeightThreshold
// always yields critical.
func Aggregate(checks []SecurityCheck) Assessment {
	total := 0
	highest := 0
	var reason *string
	for i := range checks {
		total += checks[i].Weight
		if rank := checks[i].RiskLevel.Rank(); rank > highest {
			highest = rank
			r := checks[i].Reason
			reason = &r
		}
	}

	var level RiskLevel
	switch {
	case highest >= RiskLevelCritical.Rank() || total >= CriticalWeightThreshold:
		level = RiskLevelCritical
	case highest >= RiskLevelHigh.Rank() || total >= HighWeightThreshold:
		level = RiskLevelHigh
	case total >= MediumWeightThreshold:
		level = RiskLevelMedium
	default:
		level = RiskLevelLow
	}

	status := StatusFor(level)
	return Assessment{
		RiskLevel:   level,
		Status:      status,
		Approved:    status == StatusApproved,
		Message:     MessageFor(level),
		Reason:      reason,
		TotalWeight: total,
	}
}

// StatusFor maps an overall tier to its status
func StatusFor(level RiskLevel) Status {
	switch level {
	case RiskLevelCritical:
		return StatusRejected
	case RiskLevelHigh:
		return StatusSuspicious
	default:
		return StatusApproved
	}
}

// MessageFor returns the verdict message for an overall tier
func MessageFor(level RiskLevel) string {
	switch level {
	case RiskLevelCritical:
		return MessageRejected
	case RiskLevelHigh:
		return MessageSuspicious
	case RiskLevelMedium:
		return MessageMinorAlerts
	default:
		return MessageApproved
	}
}
