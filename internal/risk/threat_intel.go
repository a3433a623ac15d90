package risk

import (
	"fmt"
	"math"
	"net"
	"sort"
	"strings"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// GeoZone is a circular region around a city centre
type GeoZone struct {
	Center    GeoPoint  `json:"center"`
	RadiusKm  float64   `json:"radius_km"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
	Reason    string    `json:"reason,omitempty"`
}

// Label identifies the zone as "City, Country"
func (z GeoZone) Label() string {
	return z.City + ", " + z.Country
}

// ZoneConfig is the serialized form of a GeoZone used by every threat intel source
type ZoneConfig struct {
	City      string  `mapstructure:"city" json:"city"`
	Country   string  `mapstructure:"country" json:"country"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
	RadiusKm  float64 `mapstructure:"radius_km" json:"radius_km"`
	RiskLevel string  `mapstructure:"risk_level" json:"risk_level,omitempty"`
	Reason    string  `mapstructure:"reason" json:"reason,omitempty"`
}

// ThreatIntelConfig is the raw threat intelligence as read from a source
type ThreatIntelConfig struct {
	SuspiciousIPs []string     `mapstructure:"suspicious_ips" json:"suspicious_ips"`
	MaliciousIPs  []string     `mapstructure:"malicious_ips" json:"malicious_ips"`
	BlockedZones  []ZoneConfig `mapstructure:"blocked_zones" json:"blocked_zones"`
	HighRiskZones []ZoneConfig `mapstructure:"high_risk_zones" json:"high_risk_zones"`
}

// DefaultThreatIntelConfig returns the bundled threat intelligence
func DefaultThreatIntelConfig() ThreatIntelConfig {
	return ThreatIntelConfig{
		SuspiciousIPs: []string{
			"198.51.100.23",
			"198.51.100.77",
			"192.0.2.146",
		},
		MaliciousIPs: []string{
			"192.0.2.66",
			"198.51.100.250",
			"203.0.113.199",
		},
		BlockedZones: []ZoneConfig{
			{City: "Beijing", Country: "China", Latitude: 39.9042, Longitude: 116.4074, RadiusKm: 50, Reason: "Sanctioned region"},
			{City: "Pyongyang", Country: "North Korea", Latitude: 39.0392, Longitude: 125.7625, RadiusKm: 50, Reason: "Sanctioned region"},
			{City: "Tehran", Country: "Iran", Latitude: 35.6892, Longitude: 51.3890, RadiusKm: 50, Reason: "Sanctioned region"},
		},
		HighRiskZones: []ZoneConfig{
			{City: "Lagos", Country: "Nigeria", Latitude: 6.5244, Longitude: 3.3792, RadiusKm: 100, RiskLevel: "high"},
			{City: "Caracas", Country: "Venezuela", Latitude: 10.4806, Longitude: -66.9036, RadiusKm: 100, RiskLevel: "high"},
			{City: "Bucharest", Country: "Romania", Latitude: 44.4268, Longitude: 26.1025, RadiusKm: 100, RiskLevel: "medium"},
			{City: "Minsk", Country: "Belarus", Latitude: 53.9006, Longitude: 27.5590, RadiusKm: 100, RiskLevel: "critical"},
		},
	}
}

// ThreatIntel is an immutable threat intelligence snapshot
type ThreatIntel struct {
	suspicious    map[string]struct{}
	malicious     map[string]struct{}
	blockedZones  []GeoZone
	highRiskZones []GeoZone
}

// NewThreatIntel validates cfg and builds a snapshot from it
func NewThreatIntel(cfg ThreatIntelConfig) (*ThreatIntel, error) {
	suspicious, err := ipSet("suspicious_ips", cfg.SuspiciousIPs)
	if err != nil {
		return nil, err
	}
	malicious, err := ipSet("malicious_ips", cfg.MaliciousIPs)
	if err != nil {
		return nil, err
	}

	ti := &ThreatIntel{
		suspicious:    suspicious,
		malicious:     malicious,
		blockedZones:  make([]GeoZone, 0, len(cfg.BlockedZones)),
		highRiskZones: make([]GeoZone, 0, len(cfg.HighRiskZones)),
	}

	for i, zc := range cfg.BlockedZones {
		zone, err := zc.toZone()
		if err != nil {
			return nil, apperrors.Configuration(fmt.Sprintf("invalid blocked zone #%d", i), err)
		}
		// Blocked zones are always critical
		zone.RiskLevel = RiskLevelCritical
		ti.blockedZones = append(ti.blockedZones, zone)
	}
	for i, zc := range cfg.HighRiskZones {
		zone, err := zc.toZone()
		if err != nil {
			return nil, apperrors.Configuration(fmt.Sprintf("invalid high-risk zone #%d", i), err)
		}
		ti.highRiskZones = append(ti.highRiskZones, zone)
	}

	return ti, nil
}

// DefaultThreatIntel builds the bundled snapshot
func DefaultThreatIntel() *ThreatIntel {
	ti, err := NewThreatIntel(DefaultThreatIntelConfig())
	if err != nil {
		panic("invalid default threat intel: " + err.Error())
	}
	return ti
}

func ipSet(field string, ips []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(ips))
	for _, raw := range ips {
		ip := net.ParseIP(strings.TrimSpace(raw))
		if ip == nil {
			return nil, apperrors.Configuration(fmt.Sprintf("invalid address in %s", field), nil).
				WithDetails(raw)
		}
		set[ip.String()] = struct{}{}
	}
	return set, nil
}

func (zc ZoneConfig) toZone() (GeoZone, error) {
	center := GeoPoint{Latitude: zc.Latitude, Longitude: zc.Longitude}
	if err := center.validate(); err != nil {
		return GeoZone{}, err
	}
	if math.IsNaN(zc.RadiusKm) || math.IsInf(zc.RadiusKm, 0) || zc.RadiusKm <= 0 {
		return GeoZone{}, fmt.Errorf("radius_km must be positive, got %v", zc.RadiusKm)
	}
	if strings.TrimSpace(zc.City) == "" || strings.TrimSpace(zc.Country) == "" {
		return GeoZone{}, fmt.Errorf("city and country are required")
	}

	var level RiskLevel
	if zc.RiskLevel != "" {
		parsed, err := ParseRiskLevel(zc.RiskLevel)
		if err != nil {
			return GeoZone{}, err
		}
		level = parsed
	}

	return GeoZone{
		Center:    center,
		RadiusKm:  zc.RadiusKm,
		RiskLevel: level,
		City:      zc.City,
		Country:   zc.Country,
		Reason:    zc.Reason,
	}, nil
}

func (z GeoZone) toConfig() ZoneConfig {
	return ZoneConfig{
		City:      z.City,
		Country:   z.Country,
		Latitude:  z.Center.Latitude,
		Longitude: z.Center.Longitude,
		RadiusKm:  z.RadiusKm,
		RiskLevel: string(z.RiskLevel),
		Reason:    z.Reason,
	}
}

// IsSuspicious reports whether ip is on the suspicious list
func (t *ThreatIntel) IsSuspicious(ip net.IP) bool {
	_, ok := t.suspicious[ip.String()]
	return ok
}

// IsMalicious reports whether ip is on the malicious list
func (t *ThreatIntel) IsMalicious(ip net.IP) bool {
	_, ok := t.malicious[ip.String()]
	return ok
}

// SuspiciousIPs returns the suspicious addresses in sorted order
func (t *ThreatIntel) SuspiciousIPs() []string {
	return sortedKeys(t.suspicious)
}

// MaliciousIPs returns the malicious addresses in sorted order
func (t *ThreatIntel) MaliciousIPs() []string {
	return sortedKeys(t.malicious)
}

// BlockedZones returns a copy of the blocked zones
func (t *ThreatIntel) BlockedZones() []GeoZone {
	return append([]GeoZone(nil), t.blockedZones...)
}

// HighRiskZones returns a copy of the high-risk zones
func (t *ThreatIntel) HighRiskZones() []GeoZone {
	return append([]GeoZone(nil), t.highRiskZones...)
}

// Config converts the snapshot back to its serialized form
func (t *ThreatIntel) Config() ThreatIntelConfig {
	cfg := ThreatIntelConfig{
		SuspiciousIPs: t.SuspiciousIPs(),
		MaliciousIPs:  t.MaliciousIPs(),
		BlockedZones:  make([]ZoneConfig, 0, len(t.blockedZones)),
		HighRiskZones: make([]ZoneConfig, 0, len(t.highRiskZones)),
	}
	for _, z := range t.blockedZones {
		cfg.BlockedZones = append(cfg.BlockedZones, z.toConfig())
	}
	for _, z := range t.highRiskZones {
		cfg.HighRiskZones = append(cfg.HighRiskZones, z.toConfig())
	}
	return cfg
}

// ThreatIntelStats summarizes the size of a snapshot
type ThreatIntelStats struct {
	SuspiciousIPs int `json:"suspicious_ips"`
	MaliciousIPs  int `json:"malicious_ips"`
	BlockedZones  int `json:"blocked_zones"`
	HighRiskZones int `json:"high_risk_zones"`
}

// Stats returns entry counts for the snapshot
func (t *ThreatIntel) Stats() ThreatIntelStats {
	return ThreatIntelStats{
		SuspiciousIPs: len(t.suspicious),
		MaliciousIPs:  len(t.malicious),
		BlockedZones:  len(t.blockedZones),
		HighRiskZones: len(t.highRiskZones),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
