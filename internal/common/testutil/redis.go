// Package testutil provides test helpers shared across risk service packages
package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/authrisk/internal/common/database"
)

// MockRedis pairs a miniredis server with a client pointed at it.
// Both are torn down by t.Cleanup.
type MockRedis struct {
	Mini   *miniredis.Miniredis
	Client *database.RedisClient
}

// NewMockRedis starts a miniredis instance and connects a client to it
func NewMockRedis(t testing.TB) *MockRedis {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &MockRedis{
		Mini:   mini,
		Client: &database.RedisClient{Client: client},
	}
}

// Redis returns the underlying go-redis client
func (m *MockRedis) Redis() *redis.Client {
	return m.Client.Client
}

// Stop shuts the server down so callers can exercise unavailable-Redis paths.
// The client stays open and fails on use.
func (m *MockRedis) Stop() {
	m.Mini.Close()
}

// Keys lists every key currently stored
func (m *MockRedis) Keys() []string {
	return m.Mini.Keys()
}

// Flush removes all data without restarting the server
func (m *MockRedis) Flush(ctx context.Context) error {
	return m.Client.Client.FlushAll(ctx).Err()
}

// Logger returns a test logger that fails the test on DPanic
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.Development()))
}
