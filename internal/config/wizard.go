package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for provider credentials and a few loop settings, starting from
// the defaults.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== HostPilot Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "API Keys (at least one is required):")
	fmt.Fprintln(w.out)

	names := map[string]string{
		ProviderAnthropic: "Anthropic",
		ProviderOpenAI:    "OpenAI",
		ProviderGemini:    "Gemini",
	}
	for i, kind := range ProviderKinds {
		key, err := w.askValid(fmt.Sprintf("%s API Key (press Enter to skip): ", names[kind]), func(s string) error {
			return validator.ValidateAPIKey(s, kind)
		})
		if err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		model, err := w.ask(fmt.Sprintf("%s model (press Enter for the default): ", names[kind]))
		if err != nil {
			return nil, err
		}
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			ID:       kind,
			Provider: kind,
			APIKey:   key,
			Model:    model,
			Priority: i,
		})
	}

	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}

	if len(cfg.Providers) > 1 {
		fmt.Fprintln(w.out)
		active, err := w.askValid(fmt.Sprintf("Active provider [%s]: ", cfg.Providers[0].ID), func(s string) error {
			if _, ok := cfg.Provider(s); !ok {
				return fmt.Errorf("%w: %s", ErrActiveProviderNotFound, s)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		cfg.ActiveProvider = active
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Logging:")
	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	cfg.applyDefaults()
	return cfg, nil
}

// askValid repeats the question until the answer is empty or passes check.
func (w *Wizard) askValid(prompt string, check func(string) error) (string, error) {
	for {
		answer, err := w.ask(prompt)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return "", nil
		}
		if err := check(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		return answer, nil
	}
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
