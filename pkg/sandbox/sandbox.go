package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/traefik/yaegi/interp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/internal/tracing"
)

const tracerName = "hostpilot/sandbox"

// Config defines sandbox configuration
type Config struct {
	// Imports is the fixed import set of the template
	Imports []string `json:"imports"`

	// Timeout limits execution time of one fragment, zero means no limit
	Timeout time.Duration `json:"timeout"`

	// MaxOutputBytes caps the captured output, zero means no cap
	MaxOutputBytes int `json:"max_output_bytes"`

	// HostExports are extra host symbols made visible to fragments,
	// keyed like "hostpilot/host/host".
	HostExports interp.Exports `json:"-"`

	// Logger receives debug output
	Logger zerolog.Logger `json:"-"`
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Imports:        append([]string(nil), DefaultImports...),
		Timeout:        10 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}
	return nil
}

// Result is the outcome of compiling and running one fragment.
type Result struct {
	Success           bool          `json:"success"`
	CapturedOutput    string        `json:"captured_output"`
	ReturnValue       any           `json:"return_value,omitempty"`
	CompilationErrors []Diagnostic  `json:"compilation_errors,omitempty"`
	RuntimeError      string        `json:"runtime_error,omitempty"`
	OutputTruncated   bool          `json:"output_truncated,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Summary renders the result as plain text for a model to read.
func (r Result) Summary() string {
	var b strings.Builder
	switch {
	case len(r.CompilationErrors) > 0:
		b.WriteString("compilation failed:\n")
		for _, d := range r.CompilationErrors {
			b.WriteString(d.String())
			b.WriteString("\n")
		}
		return b.String()
	case r.RuntimeError != "":
		fmt.Fprintf(&b, "runtime error: %s\n", r.RuntimeError)
	default:
		b.WriteString("ok\n")
	}
	if r.CapturedOutput != "" {
		b.WriteString("output:\n")
		b.WriteString(r.CapturedOutput)
		if !strings.HasSuffix(r.CapturedOutput, "\n") {
			b.WriteString("\n")
		}
		if r.OutputTruncated {
			b.WriteString("[output truncated]\n")
		}
	}
	if r.ReturnValue != nil {
		fmt.Fprintf(&b, "return: %v\n", r.ReturnValue)
	}
	return b.String()
}

// Sandbox compiles code fragments into isolated units and runs them.
type Sandbox struct {
	cfg Config

	refsOnce sync.Once
	refs     interp.Exports
	refLoads atomic.Int64

	wrapOnce sync.Once
	wrap     *wrapper
	wrapErr  error

	live atomic.Int64
}

// New creates a sandbox. The reference set is resolved on first use.
func New(cfg Config) (*Sandbox, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Imports) == 0 {
		cfg.Imports = append([]string(nil), DefaultImports...)
	}
	return &Sandbox{cfg: cfg}, nil
}

// GetConfig returns the sandbox configuration
func (s *Sandbox) GetConfig() Config {
	return s.cfg
}

// LiveUnits reports how many units have not been released yet.
func (s *Sandbox) LiveUnits() int {
	return int(s.live.Load())
}

func (s *Sandbox) template() (*wrapper, error) {
	s.wrapOnce.Do(func() {
		s.wrap, s.wrapErr = newWrapper(s.cfg.Imports, s.references())
	})
	return s.wrap, s.wrapErr
}

// CompileAndExecute wraps fragment in the fixed template, compiles it into a
// fresh unit and calls the entry point with ctxObjects and a capture buffer.
// The unit is released on every path.
func (s *Sandbox) CompileAndExecute(ctx context.Context, fragment string, ctxObjects map[string]any) (result Result, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "sandbox.compile_and_execute",
		attribute.Int("fragment.bytes", len(fragment)),
	)
	defer func() {
		result.Duration = time.Since(start)
		observability.RecordSandboxExecution(outcomeOf(result, err), result.Duration)
		span.SetAttributes(attribute.Bool("sandbox.success", result.Success))
		tracing.RecordError(span, err)
		span.End()
	}()

	if strings.TrimSpace(fragment) == "" {
		return Result{}, ErrEmptyFragment
	}

	w, err := s.template()
	if err != nil {
		return Result{}, err
	}

	s.live.Add(1)
	unit, err := newUnit(uuid.NewString(), s.references(), s.cfg.MaxOutputBytes, func() { s.live.Add(-1) })
	if err != nil {
		return Result{}, err
	}
	defer unit.Release()

	log := tracing.LoggerFromContext(ctx, s.cfg.Logger).With().Str("unit_id", unit.ID()).Logger()

	if cerr := unit.Compile(w.render(fragment)); cerr != nil {
		diags := w.diagnose(cerr, fragment)
		log.Debug().Int("diagnostics", len(diags)).Msg("Fragment failed to compile")
		return Result{Success: false, CompilationErrors: diags}, nil
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	entry, lerr := unit.Load(ctx)
	if lerr != nil {
		if errors.Is(lerr, ErrMissingEntryPoint) || errors.Is(lerr, ErrUnitReleased) {
			return Result{}, lerr
		}
		out, truncated := unit.Output()
		return Result{Success: false, CapturedOutput: out, OutputTruncated: truncated, RuntimeError: describeError(lerr)}, nil
	}

	value, rec, timedOut := s.invoke(ctx, entry, ctxObjects, unit)
	out, truncated := unit.Output()
	result = Result{CapturedOutput: out, OutputTruncated: truncated}

	switch {
	case timedOut:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.RuntimeError = fmt.Sprintf("%s after %s", ErrExecutionTimeout, s.cfg.Timeout)
		} else {
			result.RuntimeError = "execution cancelled"
		}
		log.Warn().Dur("timeout", s.cfg.Timeout).Msg("Fragment execution stopped early")
	case rec != nil:
		result.RuntimeError = describePanic(rec)
		log.Debug().Str("panic", result.RuntimeError).Msg("Fragment panicked")
	default:
		result.Success = true
		result.ReturnValue = value
	}
	return result, nil
}

// invoke calls the entry point on its own goroutine so a cancelled context
// returns control to the caller even if the fragment keeps running.
func (s *Sandbox) invoke(ctx context.Context, entry EntryFunc, env map[string]any, unit *Unit) (any, *panics.Recovered, bool) {
	type outcome struct {
		value any
		rec   *panics.Recovered
	}
	if env == nil {
		env = map[string]any{}
	}
	done := make(chan outcome, 1)
	go func() {
		var pc panics.Catcher
		var value any
		pc.Try(func() { value = entry(env, unit.Writer()) })
		done <- outcome{value: value, rec: pc.Recovered()}
	}()

	select {
	case o := <-done:
		return o.value, o.rec, false
	case <-ctx.Done():
		return nil, nil, true
	}
}

func outcomeOf(r Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(r.CompilationErrors) > 0:
		return "compilation_error"
	case r.RuntimeError != "":
		return "runtime_error"
	default:
		return "success"
	}
}

// innermost follows the Unwrap chain to the root cause.
func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func describePanic(r *panics.Recovered) string {
	return describeValue(r.Value)
}

func describeError(err error) string {
	var p interp.Panic
	if errors.As(err, &p) {
		return describeValue(p.Value)
	}
	return innermost(err).Error()
}

func describeValue(v any) string {
	switch val := v.(type) {
	case reflect.Value:
		return describeValue(hostValue(val))
	case interp.Panic:
		return describeValue(val.Value)
	case error:
		return innermost(val).Error()
	case nil:
		return "panic: nil"
	default:
		return fmt.Sprint(val)
	}
}

// hostValue converts a value panicked by interpreted code back into a plain
// Go value where the interpreter exposes one.
func hostValue(rv reflect.Value) any {
	for rv.IsValid() && rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	if rv.CanInterface() {
		return rv.Interface()
	}
	return rv.String()
}
