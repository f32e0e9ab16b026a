package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Bulkwave", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "https://graph.facebook.com", cfg.WhatsApp.BaseURL)

	assert.Equal(t, 100, cfg.Engine.TickMs)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 30, cfg.Engine.BackoffBaseSeconds)
	assert.Equal(t, 600, cfg.Engine.BackoffMaxSeconds)
	assert.Equal(t, 10, cfg.Engine.SpamWindowMinutes)
	assert.Equal(t, 5, cfg.Engine.SpamThreshold)
	assert.Equal(t, 30, cfg.Engine.SpamFirstPauseMinutes)
	assert.Equal(t, 10, cfg.Engine.ProcessingGraceMinutes)
	assert.Equal(t, 30, cfg.Engine.SchedulerIntervalSeconds)
	assert.Equal(t, 15, cfg.Engine.SendTimeoutSeconds)

	assert.Equal(t, "91", cfg.Phone.CountryPrefix)
	assert.Equal(t, 12, cfg.Phone.TotalDigits)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BULKWAVE_ENGINE_BATCH_SIZE", "25")
	t.Setenv("BULKWAVE_PHONE_COUNTRY_PREFIX", "44")
	t.Setenv("BULKWAVE_DATABASE_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.BatchSize)
	assert.Equal(t, "44", cfg.Phone.CountryPrefix)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}
