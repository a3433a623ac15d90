package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"
	"go.uber.org/zap/zaptest"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestEngine(t *testing.T, intel *ThreatIntel, opts Options) *Engine {
	t.Helper()
	if intel == nil {
		intel = DefaultThreatIntel()
	}
	engine, err := NewEngine(StaticIntel(intel), opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	engine.now = func() time.Time { return fixedNow }
	engine.newID = func() string { return "test-request" }
	return engine
}

// cleanRequest triggers no checks against the default threat intel
func cleanRequest() *SignRequest {
	return &SignRequest{
		Username:      "maria.silva",
		IPAddress:     "203.0.113.1",
		UserAgent:     browserUA,
		MachineID:     "machine-001",
		Latitude:      pointy.Float64(-15.7801),
		Longitude:     pointy.Float64(-47.9292),
		Timezone:      "America/Sao_Paulo",
		TermsAccepted: true,
		Purpose:       PurposeSignIn,
	}
}

func checkNames(checks []SecurityCheck) []CheckName {
	names := make([]CheckName, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
	}
	return names
}
