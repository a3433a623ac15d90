package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// inTempDir isolates Load from any config.yaml or .env in the package directory.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	assert.Equal(t, "risk-service", cfg.ServiceName)
	assert.Equal(t, 8506, cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, SourceDefault, cfg.ThreatIntel.Source)
	assert.Equal(t, 5*time.Minute, cfg.ThreatIntel.RefreshInterval)
	assert.Equal(t, "threat_intel:", cfg.ThreatIntel.RedisPrefix)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "sign_risk_verdicts", cfg.Audit.Index)
	assert.Equal(t, 5, cfg.Audit.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Audit.BreakerResetTimeout)
	assert.False(t, cfg.Risk.PermissiveMode)
	assert.Empty(t, cfg.Risk.PrivateIPExemptions)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("PORT", "9100")
	t.Setenv("THREAT_INTEL_SOURCE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("OPENIDX_RISK_ALLOW_PRIVATE_IPS", "true")
	t.Setenv("OPENIDX_RISK_PRIVATE_IP_EXEMPTIONS", "10.1.0.0/16,192.168.5.0/24")
	t.Setenv("THREAT_INTEL_REFRESH_INTERVAL", "30s")
	t.Setenv("OPENIDX_AUDIT_ENABLED", "false")

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, SourceRedis, cfg.ThreatIntel.Source)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.True(t, cfg.Risk.AllowPrivateIPs)
	assert.Equal(t, []string{"10.1.0.0/16", "192.168.5.0/24"}, cfg.Risk.PrivateIPExemptions)
	assert.Equal(t, 30*time.Second, cfg.ThreatIntel.RefreshInterval)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	yaml := `
environment: staging
port: 8600
risk:
  allow_cli_user_agents: true
  private_ip_exemptions:
    - 10.20.0.0/16
threat_intel:
  source: file
  file: /etc/openidx/threat_intel.yaml
audit:
  hmac_secret: file-secret
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 8600, cfg.Port)
	assert.True(t, cfg.Risk.AllowCLIUserAgents)
	assert.Equal(t, []string{"10.20.0.0/16"}, cfg.Risk.PrivateIPExemptions)
	assert.Equal(t, SourceFile, cfg.ThreatIntel.Source)
	assert.Equal(t, "/etc/openidx/threat_intel.yaml", cfg.ThreatIntel.File)
	assert.Equal(t, "file-secret", cfg.Audit.HMACSecret)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv-secret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := Load("risk-service")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv-secret", cfg.JWTSecret)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"invalid port", map[string]string{"PORT": "70000"}},
		{"unknown source", map[string]string{"THREAT_INTEL_SOURCE": "ldap"}},
		{"redis source without url", map[string]string{"THREAT_INTEL_SOURCE": "redis"}},
		{"file source without path", map[string]string{"THREAT_INTEL_SOURCE": "file"}},
		{"negative refresh", map[string]string{"THREAT_INTEL_REFRESH_INTERVAL": "-1m"}},
		{"sample rate out of range", map[string]string{"OPENIDX_TRACING_SAMPLE_RATE": "1.5"}},
		{"rate limit without redis", map[string]string{"OPENIDX_RATE_LIMIT_ENABLED": "true"}},
		{"permissive in production", map[string]string{"APP_ENV": "production", "RISK_PERMISSIVE_MODE": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("risk-service")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestProductionWarnings(t *testing.T) {
	hardened := &Config{
		Environment: "production",
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		ThreatIntel: ThreatIntelConfig{Source: SourceRedis},
		Audit:       AuditConfig{Enabled: true, HMACSecret: "audit-secret"},
	}
	assert.Empty(t, hardened.ProductionWarnings())

	weak := &Config{
		Environment: "production",
		DatabaseURL: "postgres://u:p@db/openidx?sslmode=disable",
		Risk:        RiskConfig{AllowPrivateIPs: true, AllowCLIUserAgents: true},
		ThreatIntel: ThreatIntelConfig{Source: SourcePostgres},
		Audit:       AuditConfig{Enabled: true},
	}
	warnings := weak.ProductionWarnings()
	assert.Len(t, warnings, 5)

	disabled := &Config{ThreatIntel: ThreatIntelConfig{Source: SourceDefault}}
	assert.Contains(t, disabled.ProductionWarnings(), "audit.enabled is false; verdicts are not recorded")
}

func TestLogSecurityWarnings(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	dev := &Config{Environment: "development"}
	dev.LogSecurityWarnings(log)
	assert.Zero(t, logs.Len())

	prod := &Config{Environment: "production", ThreatIntel: ThreatIntelConfig{Source: SourceDefault}}
	prod.LogSecurityWarnings(log)
	// jwt, default source, audit disabled plus the summary line
	assert.Equal(t, 4, logs.Len())
	assert.Equal(t, "SECURITY", logs.All()[0].Message)
}
