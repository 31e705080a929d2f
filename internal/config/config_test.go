package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "extendvps", cfg.Server.Name)
	assert.Equal(t, "https://secure.xserver.ne.jp/xapanel/login/xvps/", cfg.Site.LoginURL())
	assert.Len(t, cfg.Site.Routes, 5)
	assert.Equal(t, 3, cfg.Recognizer.MaxAttempts)
	assert.Equal(t, 4, cfg.Recognizer.MinLength)
	assert.Equal(t, "Asia/Tokyo", cfg.Workflow.TimeZone)
	assert.False(t, cfg.Browser.IsHeadless())
	assert.True(t, cfg.Challenge.ForceSubmit())
	require.NoError(t, cfg.Validate())
}

func TestDefaultDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.Workflow.RunTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Workflow.LoginSubmit())
	assert.Equal(t, time.Second, cfg.Workflow.Navigate())
	assert.Equal(t, 800*time.Millisecond, cfg.Workflow.RenewalClick())
	assert.Equal(t, 3*time.Second, cfg.Workflow.StatusRemove())
	assert.Equal(t, 60*time.Second, cfg.Challenge.TokenWait())
	assert.Equal(t, time.Second, cfg.Challenge.TokenInterval())
	assert.Equal(t, 60*time.Second, cfg.Challenge.CloudflareWait())
	assert.Equal(t, 30*time.Second, cfg.Recognizer.Timeout())
}

func TestDurationFallbacks(t *testing.T) {
	w := WorkflowConfig{Timeout: "not-a-duration", LoginSubmitDelay: "-1s"}
	assert.Equal(t, 5*time.Minute, w.RunTimeout())
	assert.Equal(t, 500*time.Millisecond, w.LoginSubmit())

	c := ChallengeConfig{TokenTimeout: "2s"}
	assert.Equal(t, 2*time.Second, c.TokenWait())
}

func TestLocation(t *testing.T) {
	loc := WorkflowConfig{TimeZone: "Asia/Tokyo"}.Location()
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 9*60*60, offset)

	fallback := WorkflowConfig{TimeZone: "Nowhere/Invalid"}.Location()
	_, offset = time.Date(2025, 1, 1, 0, 0, 0, 0, fallback).Zone()
	assert.Equal(t, 9*60*60, offset)
}

func TestForceSubmitOverride(t *testing.T) {
	off := false
	c := ChallengeConfig{SubmitOnTokenTimeout: &off}
	assert.False(t, c.ForceSubmit())
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, "config path is required", err.Error())
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
browser:
  debugger_url: "ws://localhost:9222"
  headless: true
workflow:
  time_zone: "UTC"
  timeout: "90s"
recognizer:
  max_attempts: 5
challenge:
  submit_on_token_timeout: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9222", cfg.Browser.DebuggerURL)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 90*time.Second, cfg.Workflow.RunTimeout())
	assert.Equal(t, 5, cfg.Recognizer.MaxAttempts)
	assert.False(t, cfg.Challenge.ForceSubmit())
	// untouched sections keep their defaults
	assert.Equal(t, "extendvps", cfg.Server.Name)
	assert.Len(t, cfg.Site.Routes, 5)
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server name",
			mutate:  func(c *Config) { c.Server.Name = "" },
			wantErr: "server.name is required",
		},
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.Site.BaseURL = "/xapanel" },
			wantErr: "site.base_url",
		},
		{
			name:    "empty routes",
			mutate:  func(c *Config) { c.Site.Routes = nil },
			wantErr: "site.routes must not be empty",
		},
		{
			name: "unknown step",
			mutate: func(c *Config) {
				c.Site.Routes = []RouteConfig{{Prefix: "/x", Step: "checkout"}}
			},
			wantErr: "not a known step",
		},
		{
			name: "prefix without slash",
			mutate: func(c *Config) {
				c.Site.Routes = []RouteConfig{{Prefix: "x", Step: StepLogin}}
			},
			wantErr: "must start with '/'",
		},
		{
			name: "duplicate prefix",
			mutate: func(c *Config) {
				c.Site.Routes = []RouteConfig{
					{Prefix: "/x", Step: StepLogin},
					{Prefix: "/x", Step: StepDashboard},
				}
			},
			wantErr: "duplicated",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Recognizer.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "bad time zone",
			mutate:  func(c *Config) { c.Workflow.TimeZone = "Mars/Olympus" },
			wantErr: "workflow.time_zone",
		},
		{
			name:    "zero cloudflare poll",
			mutate:  func(c *Config) { c.Challenge.CloudflarePoll = "0s" },
			wantErr: "challenge.cloudflare_poll must be positive",
		},
		{
			name:    "negative token poll",
			mutate:  func(c *Config) { c.Challenge.TokenPoll = "-1s" },
			wantErr: "challenge.token_poll must be positive",
		},
		{
			name:    "zero token timeout",
			mutate:  func(c *Config) { c.Challenge.TokenTimeout = "0s" },
			wantErr: "challenge.token_timeout must be positive",
		},
		{
			name:    "zero cloudflare timeout",
			mutate:  func(c *Config) { c.Challenge.CloudflareTimeout = "0" },
			wantErr: "challenge.cloudflare_timeout must be positive",
		},
		{
			name:    "unparseable run timeout",
			mutate:  func(c *Config) { c.Workflow.Timeout = "soon" },
			wantErr: "workflow.timeout",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Recognizer.RequestTimeout = "0ms" },
			wantErr: "recognizer.request_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
