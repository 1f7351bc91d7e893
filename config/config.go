package config

import (
	"fmt"
	"sort"

	"github.com/skillsenselab/voxpipe/artifact"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/observability"
	"github.com/skillsenselab/voxpipe/server"
	"github.com/skillsenselab/voxpipe/transcription"
	"github.com/skillsenselab/voxpipe/validation"
)

// ServiceName is the canonical service identifier used for config discovery,
// logging, and telemetry.
const ServiceName = "voxpipe"

// Config is the root configuration for the voxpipe service.
type Config struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging   logger.Config        `yaml:"logging" mapstructure:"logging"`
	Server    server.Config        `yaml:"server" mapstructure:"server"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Queue     QueueConfig          `yaml:"queue" mapstructure:"queue"`
	Artifacts artifact.Config      `yaml:"artifacts" mapstructure:"artifacts"`

	// Settings are the active transcription settings applied to new jobs.
	Settings transcription.Settings `yaml:"settings" mapstructure:"settings"`
	// Providers configures each transcription provider, keyed by id.
	Providers map[string]transcription.ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	// StorePath is the JSON file persisting the job list.
	StorePath string `yaml:"store_path" mapstructure:"store_path"`
}

// ApplyDefaults applies default values to queue configuration.
func (c *QueueConfig) ApplyDefaults() {
	if c.StorePath == "" {
		c.StorePath = "data/jobs.json"
	}
}

// ApplyDefaults fills unset fields across all sections. Provider entries
// inherit their map key as id.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}

	c.Logging.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	c.Queue.ApplyDefaults()
	c.Artifacts.ApplyDefaults()

	for id, p := range c.Providers {
		if p.ID == "" {
			p.ID = id
		}
		if p.Kind == "" {
			p.Kind = id
		}
		c.Providers[id] = p
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", validEnvs, c.Environment)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("config.server: %w", err)
	}

	for id, p := range c.Providers {
		if err := validation.Validate(p); err != nil {
			return fmt.Errorf("config.providers.%s: %w", id, err)
		}
	}

	if c.Settings.PrimaryProvider != "" {
		if _, ok := c.Providers[c.Settings.PrimaryProvider]; !ok {
			return fmt.Errorf("config.settings.primary_provider %q is not a configured provider", c.Settings.PrimaryProvider)
		}
	}
	for _, id := range c.Settings.FallbackProviders {
		if _, ok := c.Providers[id]; !ok {
			return fmt.Errorf("config.settings.fallback_providers entry %q is not a configured provider", id)
		}
	}
	return nil
}

// ProviderConfig implements transcription.ConfigSource.
func (c *Config) ProviderConfig(id string) (transcription.ProviderConfig, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// ProviderIDs implements transcription.ConfigSource. IDs are sorted for
// deterministic iteration.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ transcription.ConfigSource = (*Config)(nil)

// Load reads configuration from disk and the environment, applies defaults,
// and validates the result.
func Load(opts ...LoaderOption) (*Config, error) {
	cfg := &Config{}
	if err := LoadConfig(ServiceName, cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
