// Package risk scores individual sign-in and sign-up attempts against a
// threat intelligence snapshot and decides whether they may proceed.
package risk

import (
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// RiskLevel represents the risk tier of a check or verdict
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Rank orders tiers low < medium < high < critical. Unknown tiers rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelLow:
		return 1
	case RiskLevelMedium:
		return 2
	case RiskLevelHigh:
		return 3
	case RiskLevelCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether r is one of the four known tiers
func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

// String returns the string representation of RiskLevel
func (r RiskLevel) String() string {
	return string(r)
}

// ParseRiskLevel parses a tier name case-insensitively
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return level, nil
}

// Status is the decision derived from the overall risk tier
type Status string

const (
	StatusApproved   Status = "approved"
	StatusSuspicious Status = "suspicious"
	StatusRejected   Status = "rejected"
)

// SignPurpose distinguishes sign-in from sign-up attempts
type SignPurpose string

const (
	PurposeSignIn SignPurpose = "signin"
	PurposeSignUp SignPurpose = "signup"
)

// SignRequest describes one authentication attempt
type SignRequest struct {
	Username      string      `json:"username"`
	IPAddress     string      `json:"ip_address"`
	UserAgent     string      `json:"user_agent,omitempty"`
	MachineID     string      `json:"machine_id,omitempty"`
	Latitude      *float64    `json:"latitude,omitempty"`
	Longitude     *float64    `json:"longitude,omitempty"`
	Timezone      string      `json:"timezone,omitempty"`
	TermsAccepted bool        `json:"terms_accepted"`
	Purpose       SignPurpose `json:"purpose"`
}

// Location returns the request coordinates. A partial pair counts as absent.
func (r *SignRequest) Location() (GeoPoint, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: *r.Latitude, Longitude: *r.Longitude}, true
}

// Validate checks that the request can be evaluated at all
func (r *SignRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return apperrors.ValidationError("username is required")
	}
	if net.ParseIP(strings.TrimSpace(r.IPAddress)) == nil {
		return apperrors.ValidationError("ip_address is not a valid IP address").
			WithMetadata("ip_address", r.IPAddress)
	}
	switch r.Purpose {
	case PurposeSignIn, PurposeSignUp:
	default:
		return apperrors.ValidationError("purpose must be signin or signup").
			WithMetadata("purpose", string(r.Purpose))
	}
	if p, ok := r.Location(); ok {
		if err := p.validate(); err != nil {
			return apperrors.ValidationError(err.Error())
		}
	}
	return nil
}

func (r *SignRequest) clone() *SignRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Latitude != nil {
		lat := *r.Latitude
		c.Latitude = &lat
	}
	if r.Longitude != nil {
		lon := *r.Longitude
		c.Longitude = &lon
	}
	return &c
}

// GeoPoint is a WGS84 coordinate pair in degrees
type GeoPoint struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
}

func (p GeoPoint) validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Longitude)
	}
	return nil
}

// SecurityCheck is the outcome of one check that fired
type SecurityCheck struct {
	Name      CheckName `json:"name"`
	RiskLevel RiskLevel `json:"risk_level"`
	Reason    string    `json:"reason"`
	Weight    int       `json:"weight"`
}

// Verdict is the result of evaluating a SignRequest
type Verdict struct {
	RequestID   string          `json:"request_id"`
	Approved    bool            `json:"approved"`
	Message     string          `json:"message"`
	OverallRisk RiskLevel       `json:"overall_risk"`
	Status      Status          `json:"status"`
	Reason      *string         `json:"reason,omitempty"`
	Checks      []SecurityCheck `json:"security_checks"`
	FailClosed  bool            `json:"fail_closed,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// TotalWeight sums the weights of the triggered checks
func (v *Verdict) TotalWeight() int {
	total := 0
	for _, c := range v.Checks {
		total += c.Weight
	}
	return total
}
