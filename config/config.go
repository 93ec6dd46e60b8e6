// Package config loads voxchat settings from a TOML file, the environment
// and command line overrides, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultTextPath  = "/api/text/process"
	DefaultVoicePath = "/api/voice/process"
	DefaultTimeout   = 60 * time.Second

	DefaultSampleRate   = 44100
	DefaultVADThreshold = 2.22

	envPrefix = "VOXCHAT_"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	LogLevel string `toml:"log_level"`

	Backend BackendConfig `toml:"backend"`
	Audio   AudioConfig   `toml:"audio"`
	Server  ServerConfig  `toml:"server"`
	Inbox   InboxConfig   `toml:"inbox"`
}

// BackendConfig locates the assistant service endpoints.
type BackendConfig struct {
	BaseURL   string   `toml:"base_url"`
	TextPath  string   `toml:"text_path"`
	VoicePath string   `toml:"voice_path"`
	Timeout   Duration `toml:"timeout"`
}

type AudioConfig struct {
	// Device is the input device index; 0 selects the default input.
	Device     int `toml:"device"`
	SampleRate int `toml:"sample_rate"`
	// SilenceStop ends a recording after this much silence following speech.
	// Zero disables auto-stop.
	SilenceStop  Duration `toml:"silence_stop"`
	VADThreshold float64  `toml:"vad_threshold"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// TLS is enabled when both files are set.
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type InboxConfig struct {
	Dir string `toml:"dir"`
}

// Duration decodes TOML strings such as "30s" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend: BackendConfig{
			BaseURL:   DefaultBaseURL,
			TextPath:  DefaultTextPath,
			VoicePath: DefaultVoicePath,
			Timeout:   Duration{DefaultTimeout},
		},
		Audio: AudioConfig{
			SampleRate:   DefaultSampleRate,
			VADThreshold: DefaultVADThreshold,
		},
	}
}

// DefaultPath returns ~/.voxchat/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".voxchat", "config.toml"), nil
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
			}
			slog.Debug("Config file not found, using defaults", "path", path)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := map[string]*string{
		"BASE_URL":    &c.Backend.BaseURL,
		"TEXT_PATH":   &c.Backend.TextPath,
		"VOICE_PATH":  &c.Backend.VoicePath,
		"LOG_LEVEL":   &c.LogLevel,
		"SERVER_ADDR": &c.Server.Addr,
		"INBOX_DIR":   &c.Inbox.Dir,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			*field = v
		}
	}
}

func (c *Config) fillDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	if c.Backend.TextPath == "" {
		c.Backend.TextPath = DefaultTextPath
	}
	if c.Backend.VoicePath == "" {
		c.Backend.VoicePath = DefaultVoicePath
	}
	if c.Backend.Timeout.Duration <= 0 {
		c.Backend.Timeout = Duration{DefaultTimeout}
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.VADThreshold <= 0 {
		c.Audio.VADThreshold = DefaultVADThreshold
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: backend.base_url %q must be an absolute http(s) URL", ErrInvalid, c.Backend.BaseURL)
	}
	for name, p := range map[string]string{"text_path": c.Backend.TextPath, "voice_path": c.Backend.VoicePath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: backend.%s %q must start with /", ErrInvalid, name, p)
		}
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("%w: server.cert_file and server.key_file must be set together", ErrInvalid)
	}
	if c.Audio.Device < 0 {
		return fmt.Errorf("%w: audio.device must not be negative", ErrInvalid)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, s)
}
