package session

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusNotStarted  TaskStatus = "not_started"
	StatusInProgress  TaskStatus = "in_progress"
	StatusCompleted   TaskStatus = "completed"
	StatusInterrupted TaskStatus = "interrupted"
	StatusFailed      TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus is the state of a single step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is one unit of work inside a task, usually one tool dispatch.
type Step struct {
	Index     int        `json:"index"`
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
}

// TaskState is the tracked progress of the current task.
type TaskState struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Status          TaskStatus `json:"status"`
	Steps           []Step     `json:"steps"`
	Summary         string     `json:"summary,omitempty"`
	InterruptReason string     `json:"interrupt_reason,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CompletedSteps counts steps that finished successfully.
func (t TaskState) CompletedSteps() int {
	n := 0
	for _, s := range t.Steps {
		if s.Status == StepCompleted {
			n++
		}
	}
	return n
}

func (t TaskState) clone() TaskState {
	out := t
	out.Steps = append([]Step(nil), t.Steps...)
	return out
}

// ToolCallRecord is one entry of the tool-call history.
type ToolCallRecord struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result"`
	Success   bool                   `json:"success"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrorRecord is the last error reported to the tracker.
type ErrorRecord struct {
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	At          time.Time `json:"at"`
}
