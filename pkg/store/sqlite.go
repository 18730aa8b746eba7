// Package store provides the sqlite-backed implementation of run.Store. Every
// step and node append happens inside a single write transaction together with
// the owning run's counter update, which is what keeps audit trails gap-free
// under concurrent branches.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/selim/orkestra/pkg/run"
)

const defaultListLimit = 50

// SQLite implements run.Store on a local sqlite database.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	// Path is the database file. Use ":memory:" only in tests.
	Path   string
	Logger zerolog.Logger
}

// New opens the database, enables WAL mode and creates the schema.
func New(cfg Config) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front so concurrent appenders queue instead of failing on upgrade.
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLite{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Run store initialized")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			agent_name TEXT,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			context TEXT,
			steps_completed INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status);

		CREATE TABLE IF NOT EXISTS agent_steps (
			run_id TEXT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
			step_number INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			content TEXT,
			tool_name TEXT,
			tool_input TEXT,
			tool_output TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, step_number)
		);

		CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			context TEXT,
			definition TEXT,
			current_node_id TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);

		CREATE TABLE IF NOT EXISTS node_results (
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, seq)
		);

		CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL,
			message TEXT,
			snapshot TEXT,
			resolution TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			resolved_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id, resolution);

		CREATE TABLE IF NOT EXISTS schedule_jobs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			schedule TEXT NOT NULL,
			input TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			next_run_at INTEGER NOT NULL,
			last_run_at INTEGER,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_schedule_jobs_next ON schedule_jobs(enabled, next_run_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, v interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// CreateAgentRun inserts a new agent run record.
func (s *SQLite) CreateAgentRun(ctx context.Context, r *run.AgentRun) error {
	contextJSON, err := marshalJSON(r.Context)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, agent_id, agent_name, status, input, output, context,
			steps_completed, total_tokens, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.AgentName, string(r.Status), r.Input, r.Output, contextJSON,
		r.StepsCompleted, r.TotalTokens, r.Error, r.StartedAt, r.CompletedAt, r.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to create agent run: %w", err)
	}
	return nil
}

// AppendAgentStep assigns the next step number and inserts the step together
// with the run counter update in one transaction.
func (s *SQLite) AppendAgentStep(ctx context.Context, step *run.AgentRunStep) (int, error) {
	inputJSON, err := marshalJSON(step.ToolInput)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin step append: %w", err)
	}
	defer tx.Rollback()

	var number int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_number), 0) + 1 FROM agent_steps WHERE run_id = ?`,
		step.RunID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to assign step number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_steps (run_id, step_number, step_type, content, tool_name,
			tool_input, tool_output, tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, number, string(step.Type), step.Content, step.ToolName,
		inputJSON, step.ToolOutput, step.Tokens, step.DurationMs, step.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert step: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE agent_runs SET steps_completed = ? WHERE id = ?`, number, step.RunID)
	if err != nil {
		return 0, fmt.Errorf("failed to update step counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("agent run %s not found", step.RunID)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit step append: %w", err)
	}

	step.StepNumber = number
	return number, nil
}

// UpdateAgentRun writes the run's mutable fields. The step counter is owned
// by AppendAgentStep and is not touched here.
func (s *SQLite) UpdateAgentRun(ctx context.Context, r *run.AgentRun) error {
	contextJSON, err := marshalJSON(r.Context)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE agent_runs
		SET status = ?, output = ?, context = ?, total_tokens = ?, error = ?,
			completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(r.Status), r.Output, contextJSON, r.TotalTokens, r.Error,
		r.CompletedAt, r.DurationMs, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent run: %w", err)
	}
	return nil
}

// UpdateAgentRunStatus flips only the status column.
func (s *SQLite) UpdateAgentRunStatus(ctx context.Context, id string, status run.Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update agent run status: %w", err)
	}
	return nil
}

// GetAgentRun loads one agent run by id.
func (s *SQLite) GetAgentRun(ctx context.Context, id string) (*run.AgentRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, agent_name, status, input, output, context,
			steps_completed, total_tokens, error, started_at, completed_at, duration_ms
		FROM agent_runs WHERE id = ?`, id)
	return scanAgentRun(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgentRun(row rowScanner) (*run.AgentRun, error) {
	var (
		r           run.AgentRun
		status      string
		agentName   sql.NullString
		output      sql.NullString
		contextJSON sql.NullString
		errText     sql.NullString
		completedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.AgentID, &agentName, &status, &r.Input, &output, &contextJSON,
		&r.StepsCompleted, &r.TotalTokens, &errText, &r.StartedAt, &completedAt, &r.DurationMs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent run: %w", err)
	}

	r.Status = run.Status(status)
	r.AgentName = agentName.String
	r.Output = output.String
	r.Error = errText.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Int64
	}
	if err := unmarshalJSON(contextJSON, &r.Context); err != nil {
		return nil, fmt.Errorf("failed to decode run context: %w", err)
	}
	return &r, nil
}

// ListAgentSteps returns a run's steps ordered by step number.
func (s *SQLite) ListAgentSteps(ctx context.Context, runID string) ([]*run.AgentRunStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_number, step_type, content, tool_name, tool_input,
			tool_output, tokens, duration_ms, created_at
		FROM agent_steps WHERE run_id = ? ORDER BY step_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*run.AgentRunStep
	for rows.Next() {
		var (
			st         run.AgentRunStep
			stepType   string
			content    sql.NullString
			toolName   sql.NullString
			toolInput  sql.NullString
			toolOutput sql.NullString
		)
		err := rows.Scan(&st.RunID, &st.StepNumber, &stepType, &content, &toolName,
			&toolInput, &toolOutput, &st.Tokens, &st.DurationMs, &st.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Type = run.StepType(stepType)
		st.Content = content.String
		st.ToolName = toolName.String
		st.ToolOutput = toolOutput.String
		if err := unmarshalJSON(toolInput, &st.ToolInput); err != nil {
			return nil, fmt.Errorf("failed to decode tool input: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// ListAgentRuns returns recent agent runs, newest first.
func (s *SQLite) ListAgentRuns(ctx context.Context, limit int) ([]*run.AgentRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, agent_name, status, input, output, context,
			steps_completed, total_tokens, error, started_at, completed_at, duration_ms
		FROM agent_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.AgentRun
	for rows.Next() {
		r, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CreateWorkflowRun inserts a new workflow run record, including the graph
// snapshot used for durable resume.
func (s *SQLite) CreateWorkflowRun(ctx context.Context, r *run.WorkflowRun) error {
	inputJSON, err := marshalJSON(r.Input)
	if err != nil {
		return err
	}
	outputJSON, err := marshalJSON(r.Output)
	if err != nil {
		return err
	}
	contextJSON, err := marshalJSON(r.Context)
	if err != nil {
		return err
	}

	var definition sql.NullString
	if len(r.Definition) > 0 {
		definition = sql.NullString{String: string(r.Definition), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, workflow_name, status, input, output,
			context, definition, current_node_id, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkflowID, r.WorkflowName, string(r.Status), inputJSON, outputJSON,
		contextJSON, definition, r.CurrentNodeID, r.Error, r.StartedAt, r.CompletedAt, r.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// AppendNodeResult assigns the next per-run sequence number and inserts the
// record in one transaction.
func (s *SQLite) AppendNodeResult(ctx context.Context, res *run.NodeResult) (int, error) {
	outputJSON, err := marshalJSON(res.Output)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin node append: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM node_results WHERE run_id = ?`,
		res.RunID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to assign node sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO node_results (run_id, seq, node_id, node_type, status, output,
			error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, seq, res.NodeID, res.NodeType, string(res.Status), outputJSON,
		res.Error, res.StartedAt, res.CompletedAt, res.DurationMs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert node result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit node append: %w", err)
	}

	res.Seq = seq
	return seq, nil
}

// UpdateWorkflowRun writes the run's mutable fields.
func (s *SQLite) UpdateWorkflowRun(ctx context.Context, r *run.WorkflowRun) error {
	outputJSON, err := marshalJSON(r.Output)
	if err != nil {
		return err
	}
	contextJSON, err := marshalJSON(r.Context)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET status = ?, output = ?, context = ?, current_node_id = ?, error = ?,
			completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(r.Status), outputJSON, contextJSON, r.CurrentNodeID, r.Error,
		r.CompletedAt, r.DurationMs, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update workflow run: %w", err)
	}
	return nil
}

// UpdateWorkflowRunStatus flips only the status column.
func (s *SQLite) UpdateWorkflowRunStatus(ctx context.Context, id string, status run.Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow run status: %w", err)
	}
	return nil
}

// GetWorkflowRun loads one workflow run by id.
func (s *SQLite) GetWorkflowRun(ctx context.Context, id string) (*run.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, workflow_name, status, input, output, context,
			definition, current_node_id, error, started_at, completed_at, duration_ms
		FROM workflow_runs WHERE id = ?`, id)

	var (
		r           run.WorkflowRun
		status      string
		name        sql.NullString
		inputJSON   sql.NullString
		outputJSON  sql.NullString
		contextJSON sql.NullString
		definition  sql.NullString
		currentNode sql.NullString
		errText     sql.NullString
		completedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.WorkflowID, &name, &status, &inputJSON, &outputJSON,
		&contextJSON, &definition, &currentNode, &errText, &r.StartedAt, &completedAt, &r.DurationMs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow run: %w", err)
	}

	r.Status = run.Status(status)
	r.WorkflowName = name.String
	r.CurrentNodeID = currentNode.String
	r.Error = errText.String
	if definition.Valid {
		r.Definition = []byte(definition.String)
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Int64
	}
	if err := unmarshalJSON(inputJSON, &r.Input); err != nil {
		return nil, fmt.Errorf("failed to decode run input: %w", err)
	}
	if err := unmarshalJSON(outputJSON, &r.Output); err != nil {
		return nil, fmt.Errorf("failed to decode run output: %w", err)
	}
	if err := unmarshalJSON(contextJSON, &r.Context); err != nil {
		return nil, fmt.Errorf("failed to decode run context: %w", err)
	}
	return &r, nil
}

// ListNodeResults returns a run's node records ordered by sequence.
func (s *SQLite) ListNodeResults(ctx context.Context, runID string) ([]*run.NodeResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, node_id, node_type, status, output, error,
			started_at, completed_at, duration_ms
		FROM node_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer rows.Close()

	var results []*run.NodeResult
	for rows.Next() {
		var (
			res         run.NodeResult
			status      string
			outputJSON  sql.NullString
			errText     sql.NullString
			completedAt sql.NullInt64
		)
		err := rows.Scan(&res.RunID, &res.Seq, &res.NodeID, &res.NodeType, &status,
			&outputJSON, &errText, &res.StartedAt, &completedAt, &res.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		res.Status = run.NodeStatus(status)
		res.Error = errText.String
		if completedAt.Valid {
			res.CompletedAt = &completedAt.Int64
		}
		if err := unmarshalJSON(outputJSON, &res.Output); err != nil {
			return nil, fmt.Errorf("failed to decode node output: %w", err)
		}
		results = append(results, &res)
	}
	return results, rows.Err()
}

// ListWorkflowRuns returns recent workflow runs, newest first.
func (s *SQLite) ListWorkflowRuns(ctx context.Context, limit int) ([]*run.WorkflowRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workflow_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*run.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetWorkflowRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// CreateApproval inserts a pending approval request.
func (s *SQLite) CreateApproval(ctx context.Context, req *run.ApprovalRequest) error {
	snapshotJSON, err := marshalJSON(req.Snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, run_id, node_id, message, snapshot, resolution, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RunID, req.NodeID, req.Message, snapshotJSON,
		string(req.Resolution), req.CreatedAt, req.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// OpenApproval returns the unresolved approval request for a run, or nil when
// none is outstanding.
func (s *SQLite) OpenApproval(ctx context.Context, runID string) (*run.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, node_id, message, snapshot, resolution, created_at, resolved_at
		FROM approvals WHERE run_id = ? AND resolution = 'pending'
		ORDER BY created_at DESC LIMIT 1`, runID)

	var (
		req          run.ApprovalRequest
		message      sql.NullString
		snapshotJSON sql.NullString
		resolution   string
		resolvedAt   sql.NullInt64
	)
	err := row.Scan(&req.ID, &req.RunID, &req.NodeID, &message, &snapshotJSON,
		&resolution, &req.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	req.Message = message.String
	req.Resolution = run.Resolution(resolution)
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Int64
	}
	if err := unmarshalJSON(snapshotJSON, &req.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode approval snapshot: %w", err)
	}
	return &req, nil
}

// ResolveApproval records the decision on a pending request.
func (s *SQLite) ResolveApproval(ctx context.Context, id string, resolution run.Resolution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET resolution = ?, resolved_at = strftime('%s','now') * 1000
		WHERE id = ? AND resolution = 'pending'`,
		string(resolution), id)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approval %s is not pending", id)
	}
	return nil
}
