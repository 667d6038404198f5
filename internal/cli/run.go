package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/hostpilot/pkg/agent"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one prompt to completion",
		Long: `Run one prompt through the agent loop and stream the reply to stdout.
Interrupt with Ctrl-C to cancel the task.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conv := agent.NewConversation("run")
			return runPrompt(ctx, a, conv, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

// runPrompt streams one run to out and ends the reply with a newline.
func runPrompt(ctx context.Context, a *app, conv *agent.Conversation, prompt string, out io.Writer) error {
	streamed := false
	res, err := a.runner.Run(ctx, conv, prompt, func(text string) {
		streamed = true
		fmt.Fprint(out, text)
	})
	if streamed {
		fmt.Fprintln(out)
	} else if res.Text != "" {
		fmt.Fprintln(out, res.Text)
	}
	return err
}
