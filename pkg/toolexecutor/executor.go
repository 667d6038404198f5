package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/hostbridge"
)

const (
	tracerName = "hostpilot/toolexecutor"

	// DefaultTimeout bounds one handler call
	DefaultTimeout = 30 * time.Second

	// DefaultMaxOutputBytes caps a rendered tool payload
	DefaultMaxOutputBytes = 10 * 1024

	// KindToolError is the error kind of an ordinary handler failure
	KindToolError = "tool_error"
)

var (
	// ErrToolNotFound is returned when no tool has the requested name
	ErrToolNotFound = errors.New("tool not found")

	// ErrPreviewUnsupported is returned by Preview for tools without a preview handler
	ErrPreviewUnsupported = errors.New("tool does not support preview")

	// ErrToolDenied is returned when policy forbids a tool
	ErrToolDenied = errors.New("tool denied by policy")
)

// ToolPolicy defines which tools the agent can use
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" mapstructure:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`  // Closed set of allowed string values
	Items       string   `json:"items,omitempty"` // Element type for array parameters
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Preview describes what Handler would do without doing it. Optional.
	Preview ToolHandler `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// KindError lets a handler report a failure kind other than tool_error.
type KindError struct {
	Kind    string
	Message string
}

func (e *KindError) Error() string {
	return e.Message
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Payload renders the result as the text handed back to the model.
func (r ToolResult) Payload() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch out := r.Output.(type) {
	case nil:
		return "ok"
	case string:
		return out
	case fmt.Stringer:
		return out.String()
	default:
		return fmt.Sprintf("%v", out)
	}
}

// Config configures a ToolExecutor.
type Config struct {
	Policy         *ToolPolicy
	Timeout        time.Duration
	MaxOutputBytes int
	// Bridge, when set, runs every handler on the host goroutine.
	Bridge *hostbridge.Bridge
	Logger zerolog.Logger
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	cfg     Config
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "toolexecutor").Logger(),
	}

	te.logger.Debug().Msg("Tool executor initialized")

	return te
}

// SetPolicy replaces the allow/deny policy.
func (te *ToolExecutor) SetPolicy(policy *ToolPolicy) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.cfg.Policy = policy
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	// Validate tool definition
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	// Generate JSON Schema
	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	te.logger.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)

	te.logger.Debug().Str("tool", name).Msg("Tool unregistered")
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns the tools the policy allows, sorted by name. This is
// the set advertised to providers.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for name, def := range te.tools {
		if te.cfg.Policy.IsToolAllowed(name) {
			defs = append(defs, *def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute executes a tool with the given parameters. Every failure, a
// handler panic included, comes back as a ToolResult with Success false.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) ToolResult {
	startTime := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "tool.dispatch", attribute.String("tool", toolName))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, te.logger).With().Str("tool", toolName).Logger()

	tool, schema, err := te.resolve(toolName)
	if err != nil {
		logger.Warn().Err(err).Msg("Tool dispatch rejected")
		observability.RecordToolDispatch(toolName, time.Since(startTime), false)
		tracing.RecordError(span, err)
		return ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: KindToolError,
			Metadata:  map[string]any{"policy_violation": errors.Is(err, ErrToolDenied)},
		}
	}

	if params == nil {
		params = map[string]any{}
	}

	// Validate parameters
	if err := te.validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		observability.RecordToolDispatch(toolName, time.Since(startTime), false)
		return ToolResult{
			Success:   false,
			Error:     fmt.Sprintf("parameter validation failed: %v", err),
			ErrorKind: KindToolError,
		}
	}

	logger.Debug().Msg("Executing tool")

	result := te.invoke(ctx, tool.Name, tool.Handler, params)
	duration := time.Since(startTime)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["duration"] = duration.Milliseconds()

	if result.Success {
		logger.Debug().Dur("duration", duration).Bool("truncated", result.Truncated).Msg("Tool execution completed")
	} else {
		logger.Warn().Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
		tracing.RecordError(span, errors.New(result.Error))
	}
	observability.RecordToolDispatch(toolName, duration, result.Success)

	return result
}

// Preview runs the tool's preview handler. Tools without one return
// ErrPreviewUnsupported.
func (te *ToolExecutor) Preview(ctx context.Context, toolName string, params map[string]any) (ToolResult, error) {
	tool, schema, err := te.resolve(toolName)
	if err != nil {
		return ToolResult{}, err
	}
	if tool.Preview == nil {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrPreviewUnsupported, toolName)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := te.validateParameters(schema, params); err != nil {
		return ToolResult{}, fmt.Errorf("parameter validation failed: %w", err)
	}
	return te.invoke(ctx, toolName+".preview", tool.Preview, params), nil
}

func (te *ToolExecutor) resolve(toolName string) (*ToolDefinition, *gojsonschema.Schema, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool := te.tools[toolName]
	if tool == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	if !te.cfg.Policy.IsToolAllowed(toolName) {
		return nil, nil, fmt.Errorf("%w: %s", ErrToolDenied, toolName)
	}
	return tool, te.schemas[toolName], nil
}

// invoke runs handler under the configured timeout, on the host bridge when
// one is configured, and shapes the outcome.
func (te *ToolExecutor) invoke(ctx context.Context, name string, handler ToolHandler, params map[string]any) ToolResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, te.cfg.Timeout)
	defer cancel()

	call := func(ctx context.Context) (any, error) {
		var value any
		var err error
		var pc panics.Catcher
		pc.Try(func() { value, err = handler(ctx, params) })
		if r := pc.Recovered(); r != nil {
			return nil, fmt.Errorf("tool panicked: %v", r.Value)
		}
		return value, err
	}

	var value any
	var err error
	if te.cfg.Bridge != nil {
		value, err = te.cfg.Bridge.Invoke(timeoutCtx, name, call, nil)
	} else {
		value, err = call(timeoutCtx)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("tool execution timeout after %v", te.cfg.Timeout),
				ErrorKind: KindToolError,
			}
		}
		kind := KindToolError
		var ke *KindError
		if errors.As(err, &ke) && ke.Kind != "" {
			kind = ke.Kind
		}
		return ToolResult{Success: false, Error: err.Error(), ErrorKind: kind, Output: value}
	}

	output, truncated := te.truncateOutput(value)
	return ToolResult{Success: true, Output: output, Truncated: truncated}
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	// Validate parameters
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum is only supported on string parameters (%s)", param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %s for %s", param.Items, param.Name)
		}
	}

	return nil
}

// JSONSchema returns the JSON Schema object for a tool's parameters.
func JSONSchema(def ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			enum := make([]any, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]any{"type": items}
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// generateJSONSchema compiles the parameter schema used for validation
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := JSONSchema(def)
	schemaMap["additionalProperties"] = false

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, err := range result.Errors() {
			errs = append(errs, err.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit
func (te *ToolExecutor) truncateOutput(output any) (any, bool) {
	maxSize := te.cfg.MaxOutputBytes

	// Convert to string for size check
	str, isString := output.(string)
	if !isString {
		if output == nil {
			return nil, false
		}
		str = fmt.Sprintf("%v", output)
	}

	if len(str) <= maxSize {
		return output, false
	}

	truncated := str[:maxSize] + "\n... [output truncated]"
	te.logger.Warn().
		Int("original", len(str)).
		Int("truncated", maxSize).
		Msg("Output truncated")

	return truncated, true
}
