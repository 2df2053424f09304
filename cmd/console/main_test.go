package main

import (
	"testing"

	"github.com/nadmax/searcheval/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("EMAIL_API_KEY", "")
	t.Setenv("NOTIFY_RECIPIENTS", "")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	return cfg
}
