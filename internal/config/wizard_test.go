package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizard(t *testing.T) {
	t.Run("should build providers from answers", func(t *testing.T) {
		answers := strings.Join([]string{
			"bad-key",        // anthropic, rejected
			"sk-ant-good",    // anthropic
			"",               // anthropic model
			"",               // openai skipped
			"AIzaGood",       // gemini
			"gemini-2.5-pro", // gemini model
			"nope",           // active, rejected
			"gemini",         // active
			"debug",          // log level
		}, "\n") + "\n"
		var out bytes.Buffer

		cfg, err := NewWizard(strings.NewReader(answers), &out).Run()

		require.NoError(t, err)
		require.Len(t, cfg.Providers, 2)
		assert.Equal(t, ProviderConfig{ID: "anthropic", Provider: ProviderAnthropic, APIKey: "sk-ant-good", Priority: 0}, cfg.Providers[0])
		assert.Equal(t, "gemini-2.5-pro", cfg.Providers[1].Model)
		assert.Equal(t, 2, cfg.Providers[1].Priority)
		assert.Equal(t, "gemini", cfg.ActiveProvider)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.NoError(t, cfg.Validate())
		assert.Contains(t, out.String(), "invalid Anthropic API key format")
		assert.Contains(t, out.String(), "active provider not found")
	})

	t.Run("should require at least one key", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("\n\n\n"), &bytes.Buffer{}).Run()
		assert.ErrorIs(t, err, ErrNoProviders)
	})

	t.Run("should keep the default level on bad input", func(t *testing.T) {
		answers := "sk-ant-x\n\n\n\nloud\n"
		var out bytes.Buffer

		cfg, err := NewWizard(strings.NewReader(answers), &out).Run()

		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Empty(t, cfg.ActiveProvider)
		assert.Contains(t, out.String(), "Warning:")
	})

	t.Run("should fail when input ends early", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("sk-ant-x\n"), &bytes.Buffer{}).Run()
		assert.Error(t, err)
	})
}
