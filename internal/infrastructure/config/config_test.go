package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, "esports-backend", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "https://api.opendota.com/api", cfg.Rest.BaseURL)
	assert.Equal(t, 1100*time.Millisecond, cfg.Rest.MinRequestDelay)
	assert.Equal(t, 3, cfg.Graph.AttemptsPerProfile)
	assert.Equal(t, 3, cfg.Scrape.FetchRetries)
	assert.Equal(t, 2, cfg.Replay.BatchConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.Replay.DownloadTimeout)
	assert.Equal(t, time.Hour, cfg.Replay.DecodeTimeout)
	assert.Equal(t, 4, cfg.Sync.EntityConcurrency)
}

func TestApplyDefaultsDoesNotOverrideSetValues(t *testing.T) {
	cfg := &Config{}
	cfg.Replay.BatchConcurrency = 3
	cfg.Rest.MinRequestDelay = 500 * time.Millisecond
	applyDefaults(cfg)

	assert.Equal(t, 3, cfg.Replay.BatchConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Rest.MinRequestDelay)
}

func TestValidateGraphTokenRequiredWhenEnabled(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Graph.Enabled = true

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bearer_token")

	cfg.Graph.BearerToken = "token"
	assert.NoError(t, cfg.validate())
}

func TestValidateBatchConcurrencyBounds(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	cfg.Replay.BatchConcurrency = 20
	assert.Error(t, cfg.validate())

	cfg.Replay.BatchConcurrency = 3
	assert.NoError(t, cfg.validate())
}

func TestValidateProductionRequiresCredentials(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.App.Env = "production"

	assert.Error(t, cfg.validate())

	cfg.Database.Password = "secret"
	cfg.Storage.AccessKey = "ak"
	cfg.Storage.SecretKey = "sk"
	assert.NoError(t, cfg.validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "esports", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=esports sslmode=disable", d.DSN())
}
