package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootOptions are the global flags shared by every command.
type rootOptions struct {
	cfgFile   string
	logLevel  string
	workspace string
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "hostpilot",
		Short: "HostPilot - agent orchestration for host applications",
		Long: `HostPilot drives a host application through a natural-language agent.
The agent chains tools over streaming Anthropic, OpenAI or Gemini connections,
falls back to compiling Go fragments when no tool fits, and can resume a task
after a rate limit interrupts it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.hostpilot/hostpilot.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.workspace, "workspace", "", "workspace root for the file tools (default is the current directory)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newChatCmd(opts),
		newRunCmd(opts),
		newExecCmd(opts),
		newToolsCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

// GetRootCmd returns a fresh command tree (for testing)
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// Execute runs the command tree. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
