package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRedis(t *testing.T) {
	ctx := context.Background()
	m := NewMockRedis(t)

	require.NoError(t, m.Client.Ping(ctx))
	require.NoError(t, m.Redis().Set(ctx, "k", "v", 0).Err())
	assert.Equal(t, []string{"k"}, m.Keys())

	require.NoError(t, m.Flush(ctx))
	assert.Empty(t, m.Keys())

	m.Stop()
	assert.Error(t, m.Client.Ping(ctx))
}
