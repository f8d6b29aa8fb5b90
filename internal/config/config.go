package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models meetline.yml.
type Config struct {
	Scheduling struct {
		DurationMinutes     int `yaml:"duration_minutes"`
		MinAccepted         int `yaml:"min_accepted"`
		ResponseWindowHours int `yaml:"response_window_hours"`
		SlotIntervalMinutes int `yaml:"slot_interval_minutes"`
		MaxAttempts         int `yaml:"max_attempts"`
	} `yaml:"scheduling"`
	Calendar struct {
		Provider        string `yaml:"provider"`
		CredentialsFile string `yaml:"credentials_file"`
		TokenDir        string `yaml:"token_dir"`
		DefaultID       string `yaml:"default_id"`
	} `yaml:"calendar"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with ml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Scheduling
	if s.DurationMinutes < 15 || s.DurationMinutes > 1440 {
		return fmt.Errorf("config.scheduling.duration_minutes must be between 15 and 1440")
	}
	if s.MinAccepted < 1 || s.MinAccepted > 50 {
		return fmt.Errorf("config.scheduling.min_accepted must be between 1 and 50")
	}
	if s.ResponseWindowHours < 1 || s.ResponseWindowHours > 336 {
		return fmt.Errorf("config.scheduling.response_window_hours must be between 1 and 336")
	}
	if s.SlotIntervalMinutes < 15 || s.SlotIntervalMinutes > 180 {
		return fmt.Errorf("config.scheduling.slot_interval_minutes must be between 15 and 180")
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > 10 {
		return fmt.Errorf("config.scheduling.max_attempts must be between 1 and 10")
	}
	switch c.Calendar.Provider {
	case "google", "fake", "none", "":
	default:
		return fmt.Errorf("config.calendar.provider must be google, fake or none")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "meetline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scheduling:
  duration_minutes: 60
  min_accepted: 2
  response_window_hours: 24
  slot_interval_minutes: 30
  max_attempts: 3

calendar:
  provider: none
  credentials_file: credentials.json
  token_dir: .meetline
  default_id: primary

server:
  addr: ":8787"
  jwt_secret: ""
`
