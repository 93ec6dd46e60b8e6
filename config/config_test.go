package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, DefaultTextPath, cfg.Backend.TextPath)
	assert.Equal(t, DefaultVoicePath, cfg.Backend.VoicePath)
	assert.Equal(t, DefaultTimeout, cfg.Backend.Timeout.Duration)
	assert.Equal(t, DefaultSampleRate, cfg.Audio.SampleRate)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[backend]
base_url = "https://assistant.example.com"
voice_path = "/v2/voice"
timeout = "15s"

[audio]
device = 2
silence_stop = "1500ms"

[server]
addr = ":8080"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://assistant.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, DefaultTextPath, cfg.Backend.TextPath)
	assert.Equal(t, "/v2/voice", cfg.Backend.VoicePath)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout.Duration)
	assert.Equal(t, 2, cfg.Audio.Device)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audio.SilenceStop.Duration)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nbase_url = \"http://file:1\"\n"), 0o600))

	t.Setenv("VOXCHAT_BASE_URL", "http://env:2")
	t.Setenv("VOXCHAT_TEXT_PATH", "/text")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:2", cfg.Backend.BaseURL)
	assert.Equal(t, "/text", cfg.Backend.TextPath)
}

func TestLoadBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.Backend.BaseURL = "localhost:8000" }},
		{"ftp base url", func(c *Config) { c.Backend.BaseURL = "ftp://host" }},
		{"text path without slash", func(c *Config) { c.Backend.TextPath = "api/text" }},
		{"voice path without slash", func(c *Config) { c.Backend.VoicePath = "voice" }},
		{"negative device", func(c *Config) { c.Audio.Device = -1 }},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }},
		{"cert without key", func(c *Config) { c.Server.CertFile = "server.crt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	assert.NoError(t, Default().Validate())
}
