package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server struct {
		BaseURL               string `toml:"base_url"`
		RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	} `toml:"server"`
	Agent struct {
		DefaultType string `toml:"default_type"`
	} `toml:"agent"`
	Logging struct {
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		OutputPath string `toml:"output_path"`
	} `toml:"logging"`
	State struct {
		DBPath string `toml:"db_path"`
	} `toml:"state"`
	UI struct {
		ShowThinking bool `toml:"show_thinking"`
	} `toml:"ui"`
}

var userHomeDir = os.UserHomeDir

func configDir() string {
	home, _ := userHomeDir()
	return filepath.Join(home, ".config", "phonepilot")
}

func GetConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("PHONEPILOT_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(configDir(), "config.toml")
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	var cfg Config
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Server.RequestTimeoutSeconds = 10
	cfg.Agent.DefaultType = "glm"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Logging.OutputPath = filepath.Join(configDir(), "phonepilot.log")
	cfg.State.DBPath = filepath.Join(configDir(), "phonepilot.db")
	cfg.UI.ShowThinking = true
	return &cfg
}

func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	u, err := url.Parse(strings.TrimSpace(c.Server.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server.base_url %q", c.Server.BaseURL)
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be positive, got %d", c.Server.RequestTimeoutSeconds)
	}
	if strings.TrimSpace(c.State.DBPath) == "" {
		return errors.New("state.db_path is empty")
	}
	return nil
}

// RequestTimeout is the per-call timeout for short side-channel requests.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Encode(f)
}

// Encode writes the config as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
