package agent

// Message roles. RoleTool carries tool outcomes for providers that expect one
// message per outcome.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StopReason says whether the model is done or wants tools run.
type StopReason string

const (
	StopMoreText  StopReason = "more_text"
	StopToolCalls StopReason = "tool_calls"
	StopError     StopReason = "error"
)

// Message is one entry of the conversation. Messages are appended and never
// edited afterwards.
type Message struct {
	Role        string           `json:"role"`
	Content     string           `json:"content,omitempty"`
	ToolCalls   []ToolInvocation `json:"tool_calls,omitempty"`
	ToolResults []ToolOutcome    `json:"tool_results,omitempty"`
}

// ToolInvocation is a completed tool call requested by the model.
type ToolInvocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolOutcome is the result of dispatching one ToolInvocation.
type ToolOutcome struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Payload  string `json:"payload"`
}

// Response is the provider-neutral result of one upstream round trip.
type Response struct {
	Text            string           `json:"text"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	StopReason      StopReason       `json:"stop_reason"`
	Success         bool             `json:"success"`
	ErrorDetail     string           `json:"error_detail,omitempty"`
	// StatusCode is the upstream HTTP status for failed calls, zero when the
	// failure never reached the server.
	StatusCode int `json:"status_code,omitempty"`
}

// TextDeltaFunc receives streamed text as it arrives.
type TextDeltaFunc func(delta string)

// RunResult is returned by Runner.Run when a turn completes normally.
type RunResult struct {
	Text      string `json:"text"`
	TaskID    string `json:"task_id"`
	Turns     int    `json:"turns"`
	ToolCalls int    `json:"tool_calls"`
	Resumed   bool   `json:"resumed,omitempty"`
}

// finalize fills in the stop reason from what was accumulated. Any tool
// invocation wins over the upstream finish reason.
func (r *Response) finalize(upstream StopReason) {
	switch {
	case len(r.ToolInvocations) > 0:
		r.StopReason = StopToolCalls
	case upstream != "":
		r.StopReason = upstream
	default:
		r.StopReason = StopMoreText
	}
	r.Success = true
}

func failedResponse(text string, status int, detail string) Response {
	return Response{
		Text:        text,
		StopReason:  StopError,
		Success:     false,
		ErrorDetail: detail,
		StatusCode:  status,
	}
}
