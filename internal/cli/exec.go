package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ErrExecutionFailed is returned when a fragment does not compile or panics
var ErrExecutionFailed = errors.New("fragment execution failed")

func newExecCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <file|->",
		Short: "Compile and run a Go fragment in the sandbox",
		Long: `Compile and run a Go fragment the way the execute_code tool does.
The fragment is the body of func(env map[string]any, out io.Writer) any.
Pass - to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				src []byte
				err error
			)
			if args[0] == "-" {
				src, err = io.ReadAll(cmd.InOrStdin())
			} else {
				src, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read fragment: %w", err)
			}

			a, err := newApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sandbox.CompileAndExecute(cmd.Context(), string(src), a.contextObjects(cmd.Context()))
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), res.Summary())
			if !res.Success {
				return ErrExecutionFailed
			}
			return nil
		},
	}
}
