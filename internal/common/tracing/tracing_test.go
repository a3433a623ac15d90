package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/authrisk/internal/common/config"
)

func TestFromServiceConfig(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	cfg := &config.Config{
		ServiceName: "risk-service",
		Environment: "staging",
		Tracing:     config.TracingConfig{Enabled: true, Endpoint: "otel:4317"},
	}

	got := FromServiceConfig(cfg)
	assert.Equal(t, Config{
		Enabled:     true,
		Endpoint:    "otel:4317",
		ServiceName: "risk-service",
		Environment: "staging",
		SampleRate:  1.0,
	}, got)

	t.Setenv("OTEL_SERVICE_NAME", "risk-service-canary")
	assert.Equal(t, "risk-service-canary", FromServiceConfig(cfg).ServiceName)
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_MissingEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestInit_Enabled(t *testing.T) {
	// the gRPC exporter connects lazily, so no collector is needed
	shutdown, err := Init(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		ServiceName: "risk-service-test",
		SampleRate:  0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
