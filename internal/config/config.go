package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models guardline.yml.
type Config struct {
	Deployment struct {
		Name     string `yaml:"name" json:"name"`
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"deployment" json:"deployment"`
	Windows struct {
		BiometricToleranceMinutes int `yaml:"biometric_tolerance_minutes" json:"biometric_tolerance_minutes"`
		AppStartMinutes           int `yaml:"app_start_minutes" json:"app_start_minutes"`
	} `yaml:"windows" json:"windows"`
	Roles struct {
		Guard       string   `yaml:"guard" json:"guard"`
		Supervisory []string `yaml:"supervisory" json:"supervisory"`
	} `yaml:"roles" json:"roles"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// BiometricTolerance is the allowed skew around a shift's scheduled start.
func (c *Config) BiometricTolerance() time.Duration {
	return time.Duration(c.Windows.BiometricToleranceMinutes) * time.Minute
}

// AppStartWindow bounds app confirmation after biometric entry.
func (c *Config) AppStartWindow() time.Duration {
	return time.Duration(c.Windows.AppStartMinutes) * time.Minute
}

// IsSupervisory reports whether the role sees every active service.
func (c *Config) IsSupervisory(role string) bool {
	for _, r := range c.Roles.Supervisory {
		if r == role {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Deployment.Name == "" {
		return fmt.Errorf("config.deployment.name is required")
	}
	if c.Windows.BiometricToleranceMinutes <= 0 {
		return fmt.Errorf("config.windows.biometric_tolerance_minutes must be positive")
	}
	if c.Windows.AppStartMinutes <= 0 {
		return fmt.Errorf("config.windows.app_start_minutes must be positive")
	}
	if c.Roles.Guard == "" {
		return fmt.Errorf("config.roles.guard is required")
	}
	if len(c.Roles.Supervisory) == 0 {
		return fmt.Errorf("config.roles.supervisory is required")
	}
	for i, role := range c.Roles.Supervisory {
		if role == "" {
			return fmt.Errorf("config.roles.supervisory[%d] is empty", i)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "guardline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// Default returns the default Config struct for a deployment.
func Default(name string) *Config {
	var cfg Config
	cfg.Deployment.Name = name
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `deployment:
  name: %s
  timezone: America/Mexico_City

windows:
  # Biometric check-in is accepted this many minutes around the scheduled start.
  biometric_tolerance_minutes: 15
  # The guard must confirm in the app this many minutes after the biometric entry.
  app_start_minutes: 30

roles:
  guard: guardia
  supervisory: [admin, administrador, supervisor, manager]
`
