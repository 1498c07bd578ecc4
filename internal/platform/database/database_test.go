package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bharosa/pkg/domain-errors"
)

func TestNewWithoutURLReturnsNoPool(t *testing.T) {
	pool, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestNewWithMalformedURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "://not-a-dsn"

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalDependency))
}

func TestHealthOnUnconfiguredPool(t *testing.T) {
	var pool *Pool
	err := pool.Health(context.Background())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalDependency))
}
