// Package audit records sign-attempt verdicts for later review, with optional
// HMAC-SHA256 signatures so stored entries can be checked for tampering.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openidx/authrisk/internal/risk"
)

// CheckRecord is one triggered check as stored in the trail
type CheckRecord struct {
	Name      string `json:"name"`
	RiskLevel string `json:"risk_level"`
	Weight    int    `json:"weight"`
	Reason    string `json:"reason"`
}

// Entry is the stored form of one evaluation
type Entry struct {
	RequestID   string        `json:"request_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Username    string        `json:"username"`
	IPAddress   string        `json:"ip_address"`
	UserAgent   string        `json:"user_agent,omitempty"`
	MachineID   string        `json:"machine_id,omitempty"`
	Purpose     string        `json:"purpose"`
	Approved    bool          `json:"approved"`
	Status      string        `json:"status"`
	OverallRisk string        `json:"overall_risk"`
	Reason      string        `json:"reason,omitempty"`
	TotalWeight int           `json:"total_weight"`
	FailClosed  bool          `json:"fail_closed"`
	Checks      []CheckRecord `json:"checks"`

	// Hash is empty when signing is disabled
	Hash string `json:"hash,omitempty"`
}

// NewEntry builds an entry from an evaluation. req may be nil for
// fail-closed verdicts on missing input.
func NewEntry(req *risk.SignRequest, v *risk.Verdict) Entry {
	e := Entry{
		RequestID:   v.RequestID,
		Timestamp:   v.EvaluatedAt.UTC(),
		Approved:    v.Approved,
		Status:      string(v.Status),
		OverallRisk: string(v.OverallRisk),
		TotalWeight: v.TotalWeight(),
		FailClosed:  v.FailClosed,
		Checks:      make([]CheckRecord, 0, len(v.Checks)),
	}
	if v.Reason != nil {
		e.Reason = *v.Reason
	}
	if req != nil {
		e.Username = req.Username
		e.IPAddress = req.IPAddress
		e.UserAgent = req.UserAgent
		e.MachineID = req.MachineID
		e.Purpose = string(req.Purpose)
	}
	for _, c := range v.Checks {
		e.Checks = append(e.Checks, CheckRecord{
			Name:      string(c.Name),
			RiskLevel: string(c.RiskLevel),
			Weight:    c.Weight,
			Reason:    c.Reason,
		})
	}
	return e
}

// canonicalBytes is the signed representation. Field order is fixed.
func (e *Entry) canonicalBytes() ([]byte, error) {
	fields := []string{
		e.RequestID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Username,
		e.IPAddress,
		e.UserAgent,
		e.MachineID,
		e.Purpose,
		strconv.FormatBool(e.Approved),
		e.Status,
		e.OverallRisk,
		e.Reason,
		strconv.Itoa(e.TotalWeight),
		strconv.FormatBool(e.FailClosed),
	}
	checks, err := json.Marshal(e.Checks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checks: %w", err)
	}
	fields = append(fields, string(checks))

	return []byte(strings.Join(fields, "\x00")), nil
}

// Signer computes and verifies entry signatures
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret returns nil, which disables signing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Sign sets e.Hash
func (s *Signer) Sign(e *Entry) error {
	if s == nil {
		return nil
	}
	hash, err := s.compute(e)
	if err != nil {
		return err
	}
	e.Hash = hash
	return nil
}

// Verify checks that e.Hash matches the entry contents
func (s *Signer) Verify(e *Entry) error {
	if s == nil {
		return fmt.Errorf("entry signing is not configured")
	}
	computed, err := s.compute(e)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(e.Hash), []byte(computed)) {
		return &HashMismatchError{RequestID: e.RequestID, StoredHash: e.Hash, ComputedHash: computed}
	}
	return nil
}

func (s *Signer) compute(e *Entry) (string, error) {
	data, err := e.canonicalBytes()
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashMismatchError is returned when a stored entry no longer matches its hash
type HashMismatchError struct {
	RequestID    string
	StoredHash   string
	ComputedHash string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for verdict %s: stored=%s, computed=%s",
		e.RequestID, e.StoredHash, e.ComputedHash)
}

// IsTampered reports whether err indicates a modified entry
func IsTampered(err error) bool {
	_, ok := err.(*HashMismatchError)
	return ok
}
