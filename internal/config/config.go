// Package config loads the daemon configuration: YAML or JSON5 files with
// $include composition and environment-variable expansion, validated
// against the schema generated from these structs.
package config

import (
	"fmt"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/pkg/models"
)

// Config is the root configuration of the NDP daemon.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Dev        bool             `yaml:"dev,omitempty"`
	Workspaces []string         `yaml:"workspaces"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty"`
	Providers  ProvidersConfig  `yaml:"providers,omitempty"`
	Models     []llm.ModelInfo  `yaml:"models"`
	Persona    PersonaConfig    `yaml:"persona,omitempty"`
	Tools      ToolsConfig      `yaml:"tools,omitempty"`
}

// RedisConfig selects the shared KV store. An empty Addr switches the
// daemon to the in-memory store, which is only useful for local runs.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

type MetricsConfig struct {
	// Addr is the Prometheus listen address; empty disables metrics.
	Addr string `yaml:"addr,omitempty"`
}

// ProvidersConfig holds per-dialect credentials.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic,omitempty"`
	OpenAI    ProviderConfig `yaml:"openai,omitempty"`
	Google    ProviderConfig `yaml:"google,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// PersonaConfig is the workspace default persona.
type PersonaConfig struct {
	Model          string           `yaml:"model"`
	Temperature    *float64         `yaml:"temperature,omitempty"`
	System         string           `yaml:"system,omitempty"`
	DefaultEnabled bool             `yaml:"default_enabled"`
	Rules          []ToolRuleConfig `yaml:"rules,omitempty"`
}

type ToolRuleConfig struct {
	Action string   `yaml:"action"`
	Tools  []string `yaml:"tools"`
}

// Persona converts the config form into the domain persona.
func (p PersonaConfig) Persona() models.Persona {
	out := models.Persona{
		Model:          p.Model,
		Temperature:    p.Temperature,
		System:         p.System,
		DefaultEnabled: p.DefaultEnabled,
	}
	for _, r := range p.Rules {
		out.Rules = append(out.Rules, models.CapabilityTools{
			Action: models.ToolRuleAction(r.Action),
			Tools:  r.Tools,
		})
	}
	return out
}

// ToolsConfig configures the built-in tool providers.
type ToolsConfig struct {
	// DocsRoot is the directory read_docs serves; empty disables it.
	DocsRoot string      `yaml:"docs_root,omitempty"`
	Image    ImageConfig `yaml:"image,omitempty"`
}

type ImageConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// Load reads, merges, decodes, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Workspaces) == 0 {
		c.Workspaces = []string{"internal/main"}
	}
}

// Validate checks the cross-field constraints decoding cannot express.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("config: model with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("config: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		switch m.Dialect {
		case llm.DialectAnthropic, llm.DialectOpenAI, llm.DialectGoogle:
		default:
			return fmt.Errorf("config: model %q has unknown dialect %q", m.Name, m.Dialect)
		}
	}
	if c.Persona.Model != "" && !seen[c.Persona.Model] {
		return fmt.Errorf("config: default persona names unknown model %q", c.Persona.Model)
	}
	for _, r := range c.Persona.Rules {
		if r.Action != string(models.ToolRuleEnable) && r.Action != string(models.ToolRuleDisable) {
			return fmt.Errorf("config: persona rule action %q is not enable or disable", r.Action)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Catalog returns the model catalog keyed by name.
func (c *Config) Catalog() map[string]llm.ModelInfo {
	out := make(map[string]llm.ModelInfo, len(c.Models))
	for _, m := range c.Models {
		out[m.Name] = m
	}
	return out
}
