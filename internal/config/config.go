// Package config loads acousticlink settings from an optional YAML file and
// ACOUSTIC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"service"`
	Capture struct {
		Source      string        `mapstructure:"source"`
		Duration    time.Duration `mapstructure:"duration"`
		SampleRate  int           `mapstructure:"sample_rate"`
		InputFormat string        `mapstructure:"input_format"`
		TempDir     string        `mapstructure:"temp_dir"`
	} `mapstructure:"capture"`
	Pipeline struct {
		ResponseTimeout time.Duration `mapstructure:"response_timeout"`
		ResetDelay      time.Duration `mapstructure:"reset_delay"`
	} `mapstructure:"pipeline"`
	Storage struct {
		DBPath string `mapstructure:"db_path"`
	} `mapstructure:"storage"`
	Server struct {
		Port           int    `mapstructure:"port"`
		AllowedOrigins string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.url", "ws://localhost:8080/socket")
	v.SetDefault("capture.source", "microphone")
	v.SetDefault("capture.duration", 20*time.Second)
	v.SetDefault("capture.sample_rate", 44100)
	v.SetDefault("capture.input_format", "pulse")
	v.SetDefault("capture.temp_dir", "/tmp")
	v.SetDefault("pipeline.response_timeout", 5*time.Minute)
	v.SetDefault("pipeline.reset_delay", 3*time.Second)
	v.SetDefault("storage.db_path", "acousticlink.sqlite3")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. When path is empty, acousticlink.yaml is looked
// up in the working directory and $HOME/.acousticlink; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACOUSTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Older deployments set these without the section prefix.
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("acousticlink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.acousticlink")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	bindings := [][]string{
		{"storage.db_path", "ACOUSTIC_STORAGE_DB_PATH", "ACOUSTIC_DB_PATH"},
		{"capture.temp_dir", "ACOUSTIC_CAPTURE_TEMP_DIR", "ACOUSTIC_TEMP_DIR"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("binding env for %s: %w", b[0], err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Service.URL == "" {
		return errors.New("service.url is required")
	}
	if c.Capture.Duration <= 0 {
		return fmt.Errorf("capture.duration must be positive, got %s", c.Capture.Duration)
	}
	if c.Pipeline.ResponseTimeout < 0 {
		return fmt.Errorf("pipeline.response_timeout must not be negative, got %s", c.Pipeline.ResponseTimeout)
	}
	return nil
}

// Origins splits the comma-separated CORS origin list.
func (c *Config) Origins() []string {
	raw := strings.TrimSpace(c.Server.AllowedOrigins)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
