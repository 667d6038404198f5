package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/hostpilot/internal/config"
	"github.com/harun/hostpilot/internal/logger"
	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/agent"
	"github.com/harun/hostpilot/pkg/coretools"
	"github.com/harun/hostpilot/pkg/hostbridge"
	"github.com/harun/hostpilot/pkg/sandbox"
	"github.com/harun/hostpilot/pkg/session"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

// app is the process host: it owns the one tracker, the host bridge and
// everything that hangs off them.
type app struct {
	cfg       *config.Config
	loader    *config.Loader
	log       *logger.Logger
	workspace string

	tracker *session.Tracker
	bridge  *hostbridge.Bridge
	sandbox *sandbox.Sandbox
	tools   *toolexecutor.ToolExecutor
	runner  *agent.Runner

	tracing bool
}

// loadConfig reads the config file named by --config and applies the
// --log-level override.
func loadConfig(opts *rootOptions) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(opts.cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		if err := config.NewValidator().ValidateLogLevel(opts.logLevel); err != nil {
			return nil, nil, err
		}
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, loader, nil
}

// newApp assembles the tool stack. withRunner also resolves the active
// provider and builds the agent runner.
func newApp(opts *rootOptions, stderr io.Writer, withRunner bool) (*app, error) {
	cfg, loader, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Output:     stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, loader: loader, log: log}
	if err := a.init(opts, withRunner); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(opts *rootOptions, withRunner bool) error {
	cfg := a.cfg

	if cfg.Telemetry.AuditFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Telemetry.AuditFile), 0o755); err != nil {
			return fmt.Errorf("failed to create audit directory: %w", err)
		}
		if err := observability.InitAuditLogger(cfg.Telemetry.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	} else {
		observability.SetAuditOutput(io.Discard)
	}

	if cfg.Telemetry.Tracing {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.tracing = true
	}

	workspace := opts.workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = wd
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	a.workspace = abs

	a.tracker = session.New(session.Config{
		HistorySize: cfg.Agent.HistorySize,
		Logger:      a.log.Component("session"),
	})
	a.bridge = hostbridge.New(hostbridge.Config{Logger: a.log.Component("hostbridge")})

	sbCfg := sandbox.DefaultConfig()
	if len(cfg.Sandbox.AllowedPackages) > 0 {
		sbCfg.Imports = append([]string(nil), cfg.Sandbox.AllowedPackages...)
	}
	sbCfg.Timeout = cfg.Sandbox.Timeout
	sbCfg.MaxOutputBytes = cfg.Sandbox.MaxOutputBytes
	sbCfg.Logger = a.log.Component("sandbox")
	a.sandbox, err = sandbox.New(sbCfg)
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}

	a.tools = toolexecutor.New(toolexecutor.Config{
		Policy: &toolexecutor.ToolPolicy{
			Allow: cfg.Tools.Allow,
			Deny:  cfg.Tools.Deny,
		},
		Timeout:        cfg.Agent.ToolTimeout,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
		Bridge:         a.bridge,
		Logger:         a.log.Component("tools"),
	})
	if err := coretools.RegisterCoreTools(a.tools, coretools.Options{WorkspaceRoot: a.workspace}); err != nil {
		return err
	}
	if err := a.tools.RegisterTool(toolexecutor.NewCodeTool(a.sandbox, a.contextObjects)); err != nil {
		return err
	}

	if !withRunner {
		return nil
	}

	provider, err := a.buildProvider(cfg)
	if err != nil {
		return err
	}
	a.runner, err = agent.NewRunner(agent.Config{
		Provider:           provider,
		Tools:              a.tools,
		Tracker:            a.tracker,
		SystemPrompt:       cfg.Agent.SystemPrompt,
		ContextTokenBudget: cfg.Agent.ContextTokenBudget,
		CharsPerToken:      cfg.Agent.CharsPerToken,
		Backoff:            agent.NewRateLimitBackoff(cfg.Agent.RateLimitBackoff),
		Logger:             a.log.GetZerolog(),
	})
	return err
}

// buildProvider resolves the active provider of cfg into an adapter.
func (a *app) buildProvider(cfg *config.Config) (agent.Provider, error) {
	active, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	return agent.NewProvider(agent.ProviderConfig{
		ID:        active.ID,
		Kind:      active.Provider,
		APIKey:    active.APIKey,
		Model:     active.Model,
		BaseURL:   active.BaseURL,
		MaxTokens: active.MaxTokens,
		Logger:    a.log.Component("provider"),
	})
}

// contextObjects are handed to every execute_code fragment as env.
func (a *app) contextObjects(ctx context.Context) map[string]any {
	return map[string]any{
		"workspace": a.workspace,
	}
}

func (a *app) component(name string) zerolog.Logger {
	return a.log.Component(name)
}

// Close releases the bridge, tracing and log sinks.
func (a *app) Close() {
	if a.bridge != nil {
		_ = a.bridge.Close()
	}
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}
	_ = observability.GetAuditLogger().Close()
	_ = a.log.Close()
}
