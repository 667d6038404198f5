package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the registered tools",
	}
	cmd.AddCommand(newToolsListCmd(opts), newToolsPreviewCmd(opts))
	return cmd
}

func newToolsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			advertised := make(map[string]bool)
			for _, def := range a.tools.Definitions() {
				advertised[def.Name] = true
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tALLOWED\tPREVIEW\tDESCRIPTION")
			for _, name := range a.tools.ListTools() {
				def := a.tools.GetTool(name)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, yesNo(advertised[name]), yesNo(def.Preview != nil), def.Description)
			}
			return tw.Flush()
		},
	}
}

func newToolsPreviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "preview <name> [json-args]",
		Short:   "Show what a tool call would do without running it",
		Example: `  hostpilot tools preview write_file '{"path":"notes.txt","content":"hi"}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("invalid tool arguments: %w", err)
				}
			}

			a, err := newApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.tools.Preview(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("preview failed: %s", res.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Payload())
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
