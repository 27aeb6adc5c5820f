package config_test

import (
	"os"
	"testing"

	"github.com/atlas-desktop/trading-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"BROKER_PAPER_BASE_URL": "https://paper-api.example.com",
		"BROKER_KEY_ID":         "key-1",
		"BROKER_SECRET_KEY":     "secret-1",
		"DATASTORE_PROJECT_ID":  "atlas-trading",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
	_ = os.Unsetenv("LLM_API_KEY")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Scheduler.TickSeconds)
	assert.Equal(t, 3, cfg.Systemic.SellVoteThreshold)
	assert.Equal(t, 1.0, cfg.Sharpe.ReduceBelow)
}

func TestLoadFailsWithoutRequiredBrokerURL(t *testing.T) {
	t.Setenv("BROKER_PAPER_BASE_URL", "")
	t.Setenv("BROKER_KEY_ID", "key-1")
	t.Setenv("BROKER_SECRET_KEY", "secret-1")
	t.Setenv("DATASTORE_PROJECT_ID", "atlas-trading")
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SCHEDULER_TICK_SECONDS", "30")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
}
