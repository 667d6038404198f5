package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Provider kinds accepted in ProviderConfig.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// ProviderKinds lists the supported provider kinds in their default priority order.
var ProviderKinds = []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini}

// Config represents the main HostPilot configuration
type Config struct {
	// Providers are the configured upstream model endpoints
	Providers []ProviderConfig `json:"providers" mapstructure:"providers" yaml:"providers"`

	// ActiveProvider selects a provider by id; empty picks the lowest priority
	ActiveProvider string `json:"active_provider" mapstructure:"active_provider" yaml:"active_provider"`

	Agent     AgentConfig     `json:"agent" mapstructure:"agent" yaml:"agent"`
	Sandbox   SandboxConfig   `json:"sandbox" mapstructure:"sandbox" yaml:"sandbox"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools" yaml:"tools"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry" yaml:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
}

// ProviderConfig describes one upstream endpoint
type ProviderConfig struct {
	ID        string `json:"id" mapstructure:"id" yaml:"id"`
	Provider  string `json:"provider" mapstructure:"provider" yaml:"provider"` // anthropic, openai, gemini
	APIKey    string `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	Model     string `json:"model,omitempty" mapstructure:"model" yaml:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Priority  int    `json:"priority" mapstructure:"priority" yaml:"priority"`
}

// AgentConfig holds orchestration loop settings
type AgentConfig struct {
	SystemPrompt       string          `json:"system_prompt" mapstructure:"system_prompt" yaml:"system_prompt"`
	ContextTokenBudget int             `json:"context_token_budget" mapstructure:"context_token_budget" yaml:"context_token_budget"` // 0 disables trimming
	CharsPerToken      int             `json:"chars_per_token" mapstructure:"chars_per_token" yaml:"chars_per_token"`
	RateLimitBackoff   []time.Duration `json:"rate_limit_backoff" mapstructure:"rate_limit_backoff" yaml:"rate_limit_backoff"`
	HistorySize        int             `json:"history_size" mapstructure:"history_size" yaml:"history_size"`
	ToolTimeout        time.Duration   `json:"tool_timeout" mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

// SandboxConfig holds dynamic code settings
type SandboxConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	// AllowedPackages is the fragment import set; empty uses the sandbox default
	AllowedPackages []string `json:"allowed_packages" mapstructure:"allowed_packages" yaml:"allowed_packages"`
	MaxOutputBytes  int      `json:"max_output_bytes" mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// ToolsConfig holds tool policy and output limits
type ToolsConfig struct {
	Allow          []string `json:"allow" mapstructure:"allow" yaml:"allow"`
	Deny           []string `json:"deny" mapstructure:"deny" yaml:"deny"`
	MaxOutputBytes int      `json:"max_output_bytes" mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" yaml:"level"`
	File       string `json:"file" mapstructure:"file" yaml:"file"`
	Console    bool   `json:"console" mapstructure:"console" yaml:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
}

// TelemetryConfig holds metrics, tracing and audit settings
type TelemetryConfig struct {
	ServiceName string `json:"service_name" mapstructure:"service_name" yaml:"service_name"`
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr" yaml:"metrics_addr"` // empty disables the endpoint
	Tracing     bool   `json:"tracing" mapstructure:"tracing" yaml:"tracing"`
	AuditFile   string `json:"audit_file" mapstructure:"audit_file" yaml:"audit_file"`
}

// DefaultRateLimitBackoff applies when the file leaves the schedule empty.
var DefaultRateLimitBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

const defaultSystemPrompt = "You are HostPilot, an assistant that completes tasks in the host application by calling tools. " +
	"Call tools when they help, and reply in plain text once the task is done."

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{},
		Agent: AgentConfig{
			SystemPrompt:       defaultSystemPrompt,
			ContextTokenBudget: 100000,
			CharsPerToken:      3,
			HistorySize:        100,
			ToolTimeout:        30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Timeout:        10 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		Tools: ToolsConfig{
			MaxOutputBytes: 10 * 1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
			Redaction:  true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hostpilot",
		},
	}
}

// applyDefaults fills list fields left empty. Lists are not part of
// DefaultConfig because decoding merges into existing slices element-wise.
func (c *Config) applyDefaults() {
	if len(c.Agent.RateLimitBackoff) == 0 {
		c.Agent.RateLimitBackoff = append([]time.Duration(nil), DefaultRateLimitBackoff...)
	}
	for i := range c.Providers {
		if c.Providers[i].ID == "" {
			c.Providers[i].ID = c.Providers[i].Provider
		}
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Redacted returns a copy with API keys masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = MaskKey(p.APIKey)
		out.Providers[i] = p
	}
	return &out
}

// MaskKey keeps the first four characters of a secret.
func MaskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + strings.Repeat("*", 8)
	}
}

// Provider returns the provider with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Active resolves the provider to use: ActiveProvider when set, otherwise the
// lowest Priority, ties broken by file order.
func (c *Config) Active() (ProviderConfig, error) {
	if len(c.Providers) == 0 {
		return ProviderConfig{}, ErrNoProviders
	}
	if c.ActiveProvider != "" {
		p, ok := c.Provider(c.ActiveProvider)
		if !ok {
			return ProviderConfig{}, fmt.Errorf("%w: %s", ErrActiveProviderNotFound, c.ActiveProvider)
		}
		return p, nil
	}

	sorted := append([]ProviderConfig(nil), c.Providers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted[0], nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true

		if !isProviderKind(p.Provider) {
			return fmt.Errorf("provider %s: %w %q (must be: %s)", p.ID, ErrUnknownProviderKind, p.Provider, strings.Join(ProviderKinds, ", "))
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", p.ID)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("provider %s: max_tokens must be >= 0", p.ID)
		}
	}

	if _, err := c.Active(); err != nil {
		return err
	}

	if c.Agent.ContextTokenBudget < 0 {
		return fmt.Errorf("agent.context_token_budget must be >= 0, got %d", c.Agent.ContextTokenBudget)
	}
	if c.Agent.CharsPerToken <= 0 {
		return fmt.Errorf("agent.chars_per_token must be positive, got %d", c.Agent.CharsPerToken)
	}
	for i, d := range c.Agent.RateLimitBackoff {
		if d <= 0 {
			return fmt.Errorf("agent.rate_limit_backoff[%d] must be positive, got %s", i, d)
		}
	}
	if c.Agent.HistorySize < 0 {
		return fmt.Errorf("agent.history_size must be >= 0")
	}
	if c.Agent.ToolTimeout < 0 {
		return fmt.Errorf("agent.tool_timeout must be >= 0")
	}
	if c.Sandbox.Timeout < 0 {
		return fmt.Errorf("sandbox.timeout must be >= 0")
	}
	if c.Sandbox.MaxOutputBytes < 0 || c.Tools.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes must be >= 0")
	}

	return nil
}

func isProviderKind(kind string) bool {
	for _, k := range ProviderKinds {
		if k == kind {
			return true
		}
	}
	return false
}
