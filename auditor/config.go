package auditor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level auditor configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Audit   AuditConfig   `yaml:"audit"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome.
	Remote   string        `yaml:"remote"`
	Headless bool          `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PageConfig maps a stored page key to the live URL to audit it on.
type PageConfig struct {
	Key string `yaml:"key"`
	URL string `yaml:"url"`
}

// AuditConfig tunes the audit run.
type AuditConfig struct {
	// LoadWait is the settle time after navigation before selectors are
	// evaluated, so client-side rendering has a chance to finish.
	LoadWait time.Duration `yaml:"load_wait"`

	// ClearLost drops the selector from annotations whose anchor no
	// longer resolves, so the widget falls back to document coordinates.
	ClearLost bool `yaml:"clear_lost"`
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auditor: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("auditor: parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = 30 * time.Second
	}
	if c.Audit.LoadWait <= 0 {
		c.Audit.LoadWait = 2 * time.Second
	}
}
