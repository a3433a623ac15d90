package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/authrisk/internal/auth"
	"github.com/openidx/authrisk/internal/common/config"
	"github.com/openidx/authrisk/internal/common/database"
	apperrors "github.com/openidx/authrisk/internal/common/errors"
	"github.com/openidx/authrisk/internal/common/testutil"
	"github.com/openidx/authrisk/internal/risk"
)

const testJWTSecret = "risk-service-test-secret-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: serviceName,
		Environment: "test",
		Port:        8506,
		JWTIssuer:   "openidx",
		ThreatIntel: config.ThreatIntelConfig{
			Source:       config.SourceDefault,
			RedisPrefix:  "threat_intel:",
			EnsureSchema: true,
		},
		Audit: config.AuditConfig{Enabled: true, LogEntries: true, Timeout: time.Second},
	}
}

func startApp(t *testing.T, cfg *config.Config) (*app, *gin.Engine) {
	t.Helper()
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	return a, a.router()
}

func do(r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func evaluate(t *testing.T, r http.Handler, ip string) risk.Verdict {
	t.Helper()
	body := `{"username":"maria.silva","ip_address":"` + ip + `","terms_accepted":true,"purpose":"signin"}`
	w := do(r, http.MethodPost, "/api/v1/risk/evaluate", body, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var v risk.Verdict
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRouter_DefaultSource(t *testing.T) {
	a, r := startApp(t, testConfig())
	assert.Equal(t, "default", a.provider.SourceName())
	assert.NotNil(t, a.trail)
	assert.Nil(t, a.verdicts)

	t.Run("health", func(t *testing.T) {
		w := do(r, http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "threat_intel")
	})

	t.Run("ready", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", "", "").Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := do(r, http.MethodGet, "/metrics", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "openidx_")
	})

	t.Run("evaluate", func(t *testing.T) {
		v := evaluate(t, r, "203.0.113.1")
		assert.Equal(t, risk.StatusApproved, v.Status)
		assert.True(t, v.Approved)
	})

	t.Run("response headers", func(t *testing.T) {
		w := do(r, http.MethodGet, "/health/live", "", "")
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	})

	t.Run("admin closed without jwt secret", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/v1/risk/threat-intel", "", "").Code)
		assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/v1/risk/threat-intel/reload", "", "").Code)
	})
}

func TestRouter_AdminWithToken(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = testJWTSecret
	_, r := startApp(t, cfg)

	tokenCfg := auth.DefaultTokenConfig()
	tokens, err := auth.NewTokenService(testJWTSecret, tokenCfg, nil)
	require.NoError(t, err)

	admin, err := tokens.GenerateAccessToken("ops-1", []string{string(auth.RoleSecurityAdmin)})
	require.NoError(t, err)
	auditor, err := tokens.GenerateAccessToken("audit-1", []string{string(auth.RoleAuditor)})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/risk/threat-intel", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/risk/threat-intel", "", admin).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/v1/risk/threat-intel", "", auditor).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/risk/threat-intel/reload", "", admin).Code)
}

func TestNewApp_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threat_intel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("suspicious_ips:\n  - 198.51.100.10\n"), 0o600))

	cfg := testConfig()
	cfg.ThreatIntel.Source = config.SourceFile
	cfg.ThreatIntel.File = path
	a, r := startApp(t, cfg)

	assert.Equal(t, "file", a.provider.SourceName())
	v := evaluate(t, r, "198.51.100.10")
	assert.Equal(t, risk.StatusSuspicious, v.Status)
}

func TestNewApp_MissingFileFails(t *testing.T) {
	cfg := testConfig()
	cfg.ThreatIntel.Source = config.SourceFile
	cfg.ThreatIntel.File = filepath.Join(t.TempDir(), "missing.yaml")

	var (
		a   *app
		err error
	)
	require.NotPanics(t, func() { a, err = newApp(context.Background(), cfg, zaptest.NewLogger(t)) })
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConfiguration))
}

func TestNewApp_FailureClosesOpenedStores(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockRedis(t)
	require.NoError(t, risk.NewRedisSource(mock.Redis(), "threat_intel:").Save(ctx, risk.DefaultThreatIntelConfig()))
	baseline := mock.Mini.CurrentConnectionCount()

	cfg := testConfig()
	cfg.ThreatIntel.Source = config.SourceRedis
	cfg.RedisURL = "redis://" + mock.Mini.Addr()
	cfg.Risk.PrivateIPExemptions = []string{"10.0.0.0/33"}

	var err error
	require.NotPanics(t, func() { _, err = newApp(ctx, cfg, zaptest.NewLogger(t)) })
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConfiguration))

	// the source client connected, so it must have been closed again
	assert.Eventually(t, func() bool {
		return mock.Mini.CurrentConnectionCount() <= baseline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewApp_SQLiteSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "threat_intel.db")

	cfg := testConfig()
	cfg.ThreatIntel.Source = config.SourceSQLite
	cfg.ThreatIntel.SQLitePath = path

	// schema is created but the tables are empty
	var err error
	require.NotPanics(t, func() { _, err = newApp(ctx, cfg, zaptest.NewLogger(t)) })
	require.Error(t, err)

	db, err := database.OpenSQLite(ctx, path)
	require.NoError(t, err)
	intel := risk.DefaultThreatIntelConfig()
	intel.SuspiciousIPs = append(intel.SuspiciousIPs, "198.51.100.77")
	require.NoError(t, risk.NewSQLiteSource(db).Replace(ctx, intel))
	require.NoError(t, db.Close())

	a, r := startApp(t, cfg)
	assert.Equal(t, "sqlite", a.provider.SourceName())
	assert.Equal(t, risk.StatusSuspicious, evaluate(t, r, "198.51.100.77").Status)
}

func TestNewApp_RedisSourceAndRateLimit(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockRedis(t)

	intel := risk.DefaultThreatIntelConfig()
	intel.MaliciousIPs = append(intel.MaliciousIPs, "192.0.2.99")
	require.NoError(t, risk.NewRedisSource(mock.Redis(), "threat_intel:").Save(ctx, intel))

	cfg := testConfig()
	cfg.ThreatIntel.Source = config.SourceRedis
	cfg.RedisURL = "redis://" + mock.Mini.Addr()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Hour}
	a, r := startApp(t, cfg)

	require.NotNil(t, a.redis)
	assert.Equal(t, "redis", a.provider.SourceName())
	assert.Equal(t, risk.StatusSuspicious, evaluate(t, r, "192.0.2.99").Status)
	evaluate(t, r, "203.0.113.1")

	w := do(r, http.MethodPost, "/api/v1/risk/evaluate", `{}`, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// probes are outside the limited group
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health/live", "", "").Code)
}

func TestNewApp_AuditDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	a, _ := startApp(t, cfg)
	assert.Nil(t, a.trail)
}
