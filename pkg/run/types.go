// Package run holds the shared data model for agent and workflow executions:
// run and step records, statuses, the error taxonomy, progress events, and the
// narrow interfaces (Store, ApprovalChannel, EventSink) both engines depend on.
package run

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status represents the lifecycle state of a run. Agent runs never enter
// waiting_approval; workflow runs may.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal returns true if the status is terminal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepType classifies an agent run step.
type StepType string

const (
	StepThinking   StepType = "thinking"
	StepToolCall   StepType = "tool_call"
	StepToolResult StepType = "tool_result"
	StepResponse   StepType = "response"
	StepError      StepType = "error"
)

// NodeStatus represents the outcome of a single workflow node execution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Agent is the immutable definition an agent run executes against. It is
// created by an external management surface and read-only to the runner.
type Agent struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	SystemPrompt   string   `json:"system_prompt"`
	Tools          []string `json:"tools,omitempty"`
	MaxSteps       int      `json:"max_steps"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    float64  `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
}

// AgentRun is one execution instance of an Agent. It is created at run start,
// mutated only by the runner that owns it, and immutable once terminal.
type AgentRun struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agent_id"`
	AgentName      string                 `json:"agent_name,omitempty"`
	Status         Status                 `json:"status"`
	Input          string                 `json:"input"`
	Output         string                 `json:"output,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	StepsCompleted int                    `json:"steps_completed"`
	TotalTokens    int                    `json:"total_tokens"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      int64                  `json:"started_at"`
	CompletedAt    *int64                 `json:"completed_at,omitempty"`
	DurationMs     int64                  `json:"duration_ms,omitempty"`
}

// AgentRunStep is one append-only entry in a run's audit trail. Step numbers
// are assigned by the store at insert time and are gap-free from 1.
type AgentRunStep struct {
	RunID      string                 `json:"run_id"`
	StepNumber int                    `json:"step_number"`
	Type       StepType               `json:"step_type"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolInput  map[string]interface{} `json:"tool_input,omitempty"`
	ToolOutput string                 `json:"tool_output,omitempty"`
	Tokens     int                    `json:"tokens,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
	CreatedAt  int64                  `json:"created_at"`
}

// WorkflowRun is one execution instance of a workflow graph. Definition holds
// a JSON snapshot of the graph so a suspended run can resume after a restart
// even if the registry copy changed or disappeared.
type WorkflowRun struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	WorkflowName  string                 `json:"workflow_name,omitempty"`
	Status        Status                 `json:"status"`
	Input         interface{}            `json:"input,omitempty"`
	Output        interface{}            `json:"output,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Definition    []byte                 `json:"-"`
	CurrentNodeID string                 `json:"current_node_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     int64                  `json:"started_at"`
	CompletedAt   *int64                 `json:"completed_at,omitempty"`
	DurationMs    int64                  `json:"duration_ms,omitempty"`
}

// NodeResult is the durable record of one workflow node execution. Seq is
// assigned by the store and strictly increases per run.
type NodeResult struct {
	RunID       string      `json:"run_id"`
	NodeID      string      `json:"node_id"`
	NodeType    string      `json:"node_type"`
	Seq         int         `json:"seq"`
	Status      NodeStatus  `json:"status"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   int64       `json:"started_at"`
	CompletedAt *int64      `json:"completed_at,omitempty"`
	DurationMs  int64       `json:"duration_ms,omitempty"`
}

// Resolution is the state of an approval request.
type Resolution string

const (
	ResolutionPending  Resolution = "pending"
	ResolutionApproved Resolution = "approved"
	ResolutionDenied   Resolution = "denied"
)

// ApprovalRequest is the durable record behind a waiting_approval run. The
// snapshot captures the execution context at suspension time so reviewers can
// see what the workflow had produced so far.
type ApprovalRequest struct {
	ID         string                 `json:"id"`
	RunID      string                 `json:"run_id"`
	NodeID     string                 `json:"node_id"`
	Message    string                 `json:"message"`
	Snapshot   map[string]interface{} `json:"snapshot,omitempty"`
	Resolution Resolution             `json:"resolution"`
	CreatedAt  int64                  `json:"created_at"`
	ResolvedAt *int64                 `json:"resolved_at,omitempty"`
}

// ScheduleKind selects how a scheduled job computes its next run.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// ScheduleSpec is the time specification of a scheduled workflow trigger.
type ScheduleSpec struct {
	Kind ScheduleKind `json:"kind"`

	// At holds an RFC 3339 timestamp for one-shot schedules.
	At string `json:"at,omitempty"`

	// EveryMs is the interval for recurring schedules.
	EveryMs int64 `json:"every_ms,omitempty"`

	// Expr is a 5-field cron expression; TZ optionally overrides the zone.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// ScheduledJob starts a workflow run whenever its schedule fires. One-shot
// jobs are disabled after firing; recurring jobs are rescheduled.
type ScheduledJob struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	Spec       ScheduleSpec `json:"schedule"`
	Input      interface{}  `json:"input,omitempty"`
	Enabled    bool         `json:"enabled"`
	NextRunAt  int64        `json:"next_run_at"`
	LastRunAt  *int64       `json:"last_run_at,omitempty"`
	CreatedAt  int64        `json:"created_at"`
}

// NewID generates a prefixed run identifier.
func NewID(prefix string) string {
	id, _ := gonanoid.New()
	return prefix + "_" + id
}
