package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harun/hostpilot/internal/config"
)

// ErrInvalidConfig is returned by config validate when problems were found
var ErrInvalidConfig = errors.New("invalid configuration")

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigValidateCmd(opts),
		newConfigInitCmd(opts),
	)
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with API keys masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(redacted)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(redacted); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}

func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := loadConfig(opts)
			if err != nil {
				return err
			}

			var problems []error
			if err := cfg.Validate(); err != nil {
				problems = append(problems, err)
			}
			problems = append(problems, config.NewValidator().ValidateConfig(cfg)...)

			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintf(out, "Configuration is valid: %s\n", loader.GetConfigPath())
				return nil
			}
			for _, p := range problems {
				fmt.Fprintf(out, "- %v\n", p)
			}
			return fmt.Errorf("%w: %d problem(s)", ErrInvalidConfig, len(problems))
		},
	}
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard to set up HostPilot.
The wizard asks for provider API keys, picks the active provider and sets the log level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.cfgFile)
			if loader.Exists() && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", loader.GetConfigPath())
			}

			cfg, err := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout()).Run()
			if err != nil {
				return fmt.Errorf("configuration failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nConfiguration saved to: %s\n", loader.GetConfigPath())
			fmt.Fprintln(cmd.OutOrStdout(), "You can now start HostPilot with: hostpilot chat")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
