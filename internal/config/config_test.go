package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LISTENER_BROWSER_WS_ENDPOINT", "wss://chrome.example.com")
	t.Setenv("LISTENER_DB_DSN", "postgres://listener@localhost:5432/reports")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://iceout.org/en/", cfg.Target.URL)
	assert.Equal(t, 80, cfg.Scrape.MaxPages)
	assert.Equal(t, 100, cfg.Scrape.PageSize)
	assert.Equal(t, 7, cfg.Scrape.LookbackDays)
	assert.Equal(t, 6, cfg.Scrape.DetailConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.Loop.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Loop.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Loop.BackoffMax)
	assert.False(t, cfg.Loop.RunOnce)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Lookback())
}

func TestLoadMissingRequiredValues(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser.ws_endpoint")

	t.Setenv("LISTENER_BROWSER_WS_ENDPOINT", "wss://chrome.example.com")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}

func TestValidateRejectsBadLimits(t *testing.T) {
	t.Parallel()

	base := Config{
		Browser: BrowserConfig{WSEndpoint: "wss://x"},
		DB:      DBConfig{DSN: "postgres://x"},
		Target:  TargetConfig{URL: "https://x"},
		Scrape:  ScrapeConfig{MaxPages: 80, PageSize: 100, LookbackDays: 7, DetailConcurrency: 6},
		Loop:    LoopConfig{PollInterval: time.Minute, BackoffBase: time.Second, BackoffMax: time.Minute},
		Server:  ServerConfig{Enabled: true, Port: 8080},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Scrape.PageSize = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Loop.BackoffMax = time.Millisecond
	assert.Error(t, bad.Validate())

	bad = base
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())
}
