package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/hostpilot/internal/config"
	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/pkg/agent"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const chatBanner = `HostPilot chat. Type a request, "continue" to resume an interrupted task,
/progress to show the current task, /reset to clear the conversation, exit to quit.
Ctrl-C cancels the running request.`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session",
		Long: `Start an interactive session with the agent. Replies stream as they arrive.
Edits to the config file switch the provider without restarting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Telemetry.MetricsAddr
			}
			if metricsAddr != "" {
				srv := serveMetrics(a, metricsAddr)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			if watch && a.loader.Exists() {
				w, err := watchConfig(a)
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)

			return chatLoop(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), sigCh)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the provider when the config file changes")
	return cmd
}

// chatLoop reads requests from in until exit, EOF or an idle interrupt. An
// interrupt while a request runs cancels only that request.
func chatLoop(ctx context.Context, a *app, in io.Reader, out, errOut io.Writer, interrupts <-chan os.Signal) error {
	conv := agent.NewConversation("chat")
	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	fmt.Fprintln(out, chatBanner)
	for {
		fmt.Fprint(out, "> ")

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/progress":
			fmt.Fprintln(out, a.tracker.ProgressReport())
			continue
		case "/reset":
			conv.Reset()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		err := runTurn(ctx, a, conv, line, out, interrupts)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(errOut, "Cancelled.")
		case agent.KindOf(err) == agent.KindRateLimit:
			fmt.Fprintf(errOut, "Error: %v\nSay \"continue\" to resume.\n", err)
		default:
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
}

// runTurn runs one request and cancels it on interrupt.
func runTurn(ctx context.Context, a *app, conv *agent.Conversation, prompt string, out io.Writer, interrupts <-chan os.Signal) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runPrompt(turnCtx, a, conv, prompt, out)
	}()

	select {
	case err := <-done:
		return err
	case <-interrupts:
		cancel()
		return <-done
	}
}

// readLines feeds lines of in to a channel that closes at EOF or once done
// is closed. A Read already blocked on in is not interrupted.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log := a.component("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

// watchConfig swaps the provider and tool policy when the config file
// changes. A reload that names no usable provider keeps the current one.
func watchConfig(a *app) (*config.Watcher, error) {
	log := a.component("config")
	w, err := config.NewWatcher(a.loader, config.WatcherConfig{Logger: log})
	if err != nil {
		return nil, err
	}

	w.Subscribe(func(cfg *config.Config) {
		a.tools.SetPolicy(&toolexecutor.ToolPolicy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny})

		provider, err := a.buildProvider(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Keeping current provider")
			return
		}
		a.runner.SetProvider(provider)
		observability.RecordConfigAudit(context.Background(), "reloaded", map[string]interface{}{
			"provider": provider.Name(),
		})
	})

	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
