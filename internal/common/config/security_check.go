package config

import (
	"strings"

	"go.uber.org/zap"
)

// ProductionWarnings lists settings that weaken a production deployment.
// Hard errors are rejected by validate instead.
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	if c.JWTSecret == "" {
		warnings = append(warnings, "jwt_secret is not set; threat intel admin endpoints are disabled")
	}
	if c.Risk.AllowPrivateIPs {
		warnings = append(warnings, "risk.allow_private_ips is enabled; private-range addresses are not flagged")
	}
	if c.Risk.AllowCLIUserAgents {
		warnings = append(warnings, "risk.allow_cli_user_agents is enabled; curl and wget clients are not flagged")
	}
	if c.ThreatIntel.Source == SourceDefault {
		warnings = append(warnings, "threat_intel.source is default; only the bundled threat intel is in use")
	}
	if !c.Audit.Enabled {
		warnings = append(warnings, "audit.enabled is false; verdicts are not recorded")
	} else if c.Audit.HMACSecret == "" {
		warnings = append(warnings, "audit.hmac_secret is not set; stored verdicts cannot be verified")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") && c.ThreatIntel.Source == SourcePostgres {
		warnings = append(warnings, "database_url disables TLS")
	}
	return warnings
}

// LogSecurityWarnings logs ProductionWarnings when running in production.
// Call this at service startup after configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()
	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}
	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
