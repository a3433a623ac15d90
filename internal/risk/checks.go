package risk

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// CheckName identifies a security check
type CheckName string

const (
	CheckIPReputation        CheckName = "ip_reputation"
	CheckBlockedLocation     CheckName = "blocked_location"
	CheckHighRiskLocation    CheckName = "high_risk_location"
	CheckTermsNotAccepted    CheckName = "terms_not_accepted"
	CheckSuspiciousUsername  CheckName = "suspicious_username"
	CheckSuspiciousUserAgent CheckName = "suspicious_user_agent"
)

// Check weights
const (
	WeightIPReputation        = 3
	WeightBlockedLocation     = 10
	WeightTermsNotAccepted    = 2
	WeightSuspiciousUsername  = 2
	WeightSuspiciousUserAgent = 3
)

var privateNetworks = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8")

var reservedUsernames = map[string]struct{}{
	"admin": {},
	"root":  {},
	"test":  {},
	"guest": {},
}

var (
	digitRunPattern     = regexp.MustCompile(`[0-9]{4,}`)
	usernameCharPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

var (
	botAgentTokens = []string{"bot", "crawler", "spider", "scraper"}
	cliAgentTokens = []string{"curl", "wget"}
)

// Evaluator runs the fixed battery of security checks
type Evaluator struct {
	allowPrivateIPs    bool
	allowCLIUserAgents bool
	exemptions         []*net.IPNet
}

// NewEvaluator creates an Evaluator from engine options
func NewEvaluator(opts Options) (*Evaluator, error) {
	exemptions := make([]*net.IPNet, 0, len(opts.PrivateIPExemptions))
	for _, cidr := range opts.PrivateIPExemptions {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, apperrors.Configuration("invalid private IP exemption", err).WithDetails(cidr)
		}
		exemptions = append(exemptions, network)
	}

	return &Evaluator{
		allowPrivateIPs:    opts.PermissiveMode || opts.AllowPrivateIPs,
		allowCLIUserAgents: opts.PermissiveMode || opts.AllowCLIUserAgents,
		exemptions:         exemptions,
	}, nil
}

// Evaluate runs every check against req and returns those that fired, in
// declaration order. req must already be valid.
func (e *Evaluator) Evaluate(req *SignRequest, intel *ThreatIntel) []SecurityCheck {
	checks := make([]SecurityCheck, 0, 6)

	if c, ok := e.checkIPReputation(req, intel); ok {
		checks = append(checks, c)
	}

	var blocked *GeoZone
	if c, zone, ok := e.checkBlockedLocation(req, intel); ok {
		checks = append(checks, c)
		blocked = &zone
	}
	if c, ok := e.checkHighRiskLocation(req, intel, blocked); ok {
		checks = append(checks, c)
	}
	if c, ok := e.checkTerms(req); ok {
		checks = append(checks, c)
	}
	if c, ok := e.checkUsername(req); ok {
		checks = append(checks, c)
	}
	if c, ok := e.checkUserAgent(req); ok {
		checks = append(checks, c)
	}

	return checks
}

func (e *Evaluator) checkIPReputation(req *SignRequest, intel *ThreatIntel) (SecurityCheck, bool) {
	ip := net.ParseIP(strings.TrimSpace(req.IPAddress))
	if ip == nil {
		return SecurityCheck{}, false
	}

	var reason string
	switch {
	case intel.IsSuspicious(ip):
		reason = fmt.Sprintf("IP address %s is on the suspicious list", ip)
	case !e.allowPrivateIPs && e.isRestrictedPrivate(ip):
		reason = fmt.Sprintf("Private network IP address %s is not allowed", ip)
	case intel.IsMalicious(ip):
		reason = fmt.Sprintf("IP address %s is on the malicious list", ip)
	default:
		return SecurityCheck{}, false
	}

	return SecurityCheck{
		Name:      CheckIPReputation,
		RiskLevel: RiskLevelHigh,
		Reason:    reason,
		Weight:    WeightIPReputation,
	}, true
}

func (e *Evaluator) isRestrictedPrivate(ip net.IP) bool {
	if !inNetworks(ip, privateNetworks) {
		return false
	}
	return !inNetworks(ip, e.exemptions)
}

func (e *Evaluator) checkBlockedLocation(req *SignRequest, intel *ThreatIntel) (SecurityCheck, GeoZone, bool) {
	p, ok := req.Location()
	if !ok {
		return SecurityCheck{}, GeoZone{}, false
	}
	zone, _, found := nearestZone(intel.blockedZones, p, nil)
	if !found {
		return SecurityCheck{}, GeoZone{}, false
	}

	reason := fmt.Sprintf("Location in blocked zone: %s", zone.Label())
	if zone.Reason != "" {
		reason += " (" + zone.Reason + ")"
	}
	return SecurityCheck{
		Name:      CheckBlockedLocation,
		RiskLevel: RiskLevelCritical,
		Reason:    reason,
		Weight:    WeightBlockedLocation,
	}, zone, true
}

func (e *Evaluator) checkHighRiskLocation(req *SignRequest, intel *ThreatIntel, blocked *GeoZone) (SecurityCheck, bool) {
	p, ok := req.Location()
	if !ok {
		return SecurityCheck{}, false
	}

	var skip func(GeoZone) bool
	if blocked != nil {
		label := blocked.Label()
		skip = func(z GeoZone) bool { return z.Label() == label }
	}

	zone, dist, found := nearestZone(intel.highRiskZones, p, skip)
	if !found {
		return SecurityCheck{}, false
	}

	level, weight := highRiskZoneWeight(zone.RiskLevel)
	return SecurityCheck{
		Name:      CheckHighRiskLocation,
		RiskLevel: level,
		Reason:    fmt.Sprintf("Location in high-risk zone: %s (%.1f km from center)", zone.Label(), dist),
		Weight:    weight,
	}, true
}

// highRiskZoneWeight maps a zone's declared tier to the check tier and weight.
// Unset and unrecognized tiers are treated as medium.
func highRiskZoneWeight(level RiskLevel) (RiskLevel, int) {
	switch level {
	case RiskLevelCritical:
		return RiskLevelCritical, 4
	case RiskLevelHigh:
		return RiskLevelHigh, 3
	default:
		return RiskLevelMedium, 2
	}
}

func (e *Evaluator) checkTerms(req *SignRequest) (SecurityCheck, bool) {
	if req.TermsAccepted {
		return SecurityCheck{}, false
	}
	return SecurityCheck{
		Name:      CheckTermsNotAccepted,
		RiskLevel: RiskLevelMedium,
		Reason:    "Terms and conditions not accepted",
		Weight:    WeightTermsNotAccepted,
	}, true
}

func (e *Evaluator) checkUsername(req *SignRequest) (SecurityCheck, bool) {
	var reason string
	switch {
	case isReservedUsername(req.Username):
		reason = fmt.Sprintf("Username %q is reserved", req.Username)
	case digitRunPattern.MatchString(req.Username):
		reason = "Username contains a long run of digits"
	case !usernameCharPattern.MatchString(req.Username):
		reason = "Username contains disallowed characters"
	default:
		return SecurityCheck{}, false
	}
	return SecurityCheck{
		Name:      CheckSuspiciousUsername,
		RiskLevel: RiskLevelMedium,
		Reason:    reason,
		Weight:    WeightSuspiciousUsername,
	}, true
}

func isReservedUsername(username string) bool {
	_, ok := reservedUsernames[strings.ToLower(username)]
	return ok
}

func (e *Evaluator) checkUserAgent(req *SignRequest) (SecurityCheck, bool) {
	ua := strings.ToLower(req.UserAgent)
	if ua == "" {
		return SecurityCheck{}, false
	}

	token, ok := matchToken(ua, botAgentTokens)
	if !ok && !e.allowCLIUserAgents {
		token, ok = matchToken(ua, cliAgentTokens)
	}
	if !ok {
		return SecurityCheck{}, false
	}

	return SecurityCheck{
		Name:      CheckSuspiciousUserAgent,
		RiskLevel: RiskLevelHigh,
		Reason:    fmt.Sprintf("Automated client user agent detected (%s)", token),
		Weight:    WeightSuspiciousUserAgent,
	}, true
}

func matchToken(s string, tokens []string) (string, bool) {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

func inNetworks(ip net.IP, networks []*net.IPNet) bool {
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
