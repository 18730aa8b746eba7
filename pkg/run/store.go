package run

import "context"

// Store is the durable record of runs, steps, node results and approvals.
// Implementations must make AppendAgentStep and AppendNodeResult atomic with
// the run counter update: concurrent writers (parallel branches) must never
// lose or interleave a partial record.
type Store interface {
	// Agent runs.
	CreateAgentRun(ctx context.Context, r *AgentRun) error
	// AppendAgentStep assigns the next step number, inserts the step and
	// bumps the run's steps_completed in one transaction. The assigned
	// number is returned and set on the step.
	AppendAgentStep(ctx context.Context, step *AgentRunStep) (int, error)
	UpdateAgentRun(ctx context.Context, r *AgentRun) error
	UpdateAgentRunStatus(ctx context.Context, id string, status Status) error
	GetAgentRun(ctx context.Context, id string) (*AgentRun, error)
	ListAgentSteps(ctx context.Context, runID string) ([]*AgentRunStep, error)
	ListAgentRuns(ctx context.Context, limit int) ([]*AgentRun, error)

	// Workflow runs.
	CreateWorkflowRun(ctx context.Context, r *WorkflowRun) error
	// AppendNodeResult assigns the next per-run sequence number and inserts
	// the record in one transaction.
	AppendNodeResult(ctx context.Context, res *NodeResult) (int, error)
	UpdateWorkflowRun(ctx context.Context, r *WorkflowRun) error
	UpdateWorkflowRunStatus(ctx context.Context, id string, status Status) error
	GetWorkflowRun(ctx context.Context, id string) (*WorkflowRun, error)
	ListNodeResults(ctx context.Context, runID string) ([]*NodeResult, error)
	ListWorkflowRuns(ctx context.Context, limit int) ([]*WorkflowRun, error)

	// Approvals.
	CreateApproval(ctx context.Context, req *ApprovalRequest) error
	// OpenApproval returns the unresolved approval for a run, or nil.
	OpenApproval(ctx context.Context, runID string) (*ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, resolution Resolution) error

	Close() error
}

// ApprovalChannel carries approval requests to whatever surface collects the
// human decision. Resolution comes back through the workflow engine's
// ApproveRun entry point, never through the channel itself.
type ApprovalChannel interface {
	Notify(ctx context.Context, req *ApprovalRequest) error
}
