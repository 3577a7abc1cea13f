package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanttide/breakout-bot/internal/config"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

func testConfig() *config.Config {
	return &config.Config{
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		LogLevel: "error",
		HTTPAddr: "127.0.0.1:0",
		Risk:     risk.DefaultConfig(),
		Exchange: config.ExchangeConfig{
			APIKey:    "test-key",
			APISecret: "test-secret",
			Demo:      true,
			Category:  "linear",
		},
		Correlations: map[string]float64{"ETHUSDT": 0.85},
	}
}

func TestBuildApp_WiresComponents(t *testing.T) {
	app, err := buildApp(testConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, app.orch.SessionID())
	assert.NotNil(t, app.controller)
	assert.NotNil(t, app.recorder)
	assert.NotNil(t, app.health)
	assert.Equal(t, "127.0.0.1:0", app.server.Addr)

	status := app.controller.Status()
	assert.Equal(t, state.StateIdle.String(), status.State)
	assert.Zero(t, status.CycleCount)
}

func TestBuildApp_UnknownLogLevelStillStarts(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "shouting"

	app, err := buildApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)
}
