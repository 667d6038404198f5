package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. HOSTPILOT_ACTIVE_PROVIDER
	EnvPrefix = "HOSTPILOT"

	defaultDirName  = ".hostpilot"
	defaultFileName = "hostpilot.json"
)

// envKeys are bound explicitly so they apply even when the file omits them.
var envKeys = []string{
	"active_provider",
	"data_dir",
	"logging.level",
	"logging.file",
	"telemetry.metrics_addr",
	"agent.context_token_budget",
}

// providerKeyEnv maps provider kinds to the environment variables that can
// supply their API key.
var providerKeyEnv = map[string][]string{
	ProviderAnthropic: {"HOSTPILOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	ProviderOpenAI:    {"HOSTPILOT_OPENAI_API_KEY", "OPENAI_API_KEY"},
	ProviderGemini:    {"HOSTPILOT_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields the defaults
// with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	for kind, names := range providerKeyEnv {
		if err := v.BindEnv(append([]string{kind + "_api_key"}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s key: %w", kind, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	applyProviderKeys(v, cfg)

	// Set data directory if not specified
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "hostpilot.log")
	}

	return cfg, nil
}

// applyProviderKeys fills empty API keys from the environment. With no
// providers in the file, one provider is added per kind whose key is set.
func applyProviderKeys(v *viper.Viper, cfg *Config) {
	if len(cfg.Providers) == 0 {
		for i, kind := range ProviderKinds {
			if key := v.GetString(kind + "_api_key"); key != "" {
				cfg.Providers = append(cfg.Providers, ProviderConfig{
					ID:       kind,
					Provider: kind,
					APIKey:   key,
					Priority: i,
				})
			}
		}
		return
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].APIKey == "" {
			cfg.Providers[i].APIKey = v.GetString(cfg.Providers[i].Provider + "_api_key")
		}
	}
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("providers", cfg.Providers)
	v.Set("active_provider", cfg.ActiveProvider)
	v.Set("agent", cfg.Agent)
	v.Set("sandbox", cfg.Sandbox)
	v.Set("tools", cfg.Tools)
	v.Set("logging", cfg.Logging)
	v.Set("telemetry", cfg.Telemetry)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// the file holds API keys
	if err := os.Chmod(configPath, 0o600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}

	return nil
}

// Exists reports whether the config file is present.
func (l *Loader) Exists() bool {
	path, err := l.resolvePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName, defaultFileName), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
