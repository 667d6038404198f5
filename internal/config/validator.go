package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator checks value formats that Config.Validate leaves alone, such as
// API key prefixes.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case ProviderGemini:
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateBaseURL accepts an empty value or an absolute http(s) URL.
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base_url %q: host is required", raw)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if p.Provider != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
		if err := v.ValidateBaseURL(p.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
		}
		if p.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
	}

	for _, name := range cfg.Tools.Allow {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, fmt.Errorf("tools.allow contains an empty name"))
		}
	}
	for _, name := range cfg.Tools.Deny {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, fmt.Errorf("tools.deny contains an empty name"))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
