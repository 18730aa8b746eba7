package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/selim/orkestra/internal/tracing"
	"github.com/selim/orkestra/pkg/agent"
	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/toolexecutor"
)

const (
	eventBuffer      = 256
	webhookBodyLimit = 1 << 20
	webhookTimeout   = 30 * time.Second
)

// AgentSource resolves the agent definitions that agent nodes reference.
type AgentSource interface {
	GetAgent(ctx context.Context, id string) (*run.Agent, error)
}

// Engine executes workflow graphs. Agent and tool nodes delegate to the
// injected runner and executor; everything else the engine handles itself.
type Engine struct {
	store     run.Store
	agents    *agent.Runner
	catalog   AgentSource
	tools     *toolexecutor.ToolExecutor
	approvals run.ApprovalChannel
	events    run.EventSink
	httpc     *http.Client
	logger    zerolog.Logger

	runsMu     sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// Config holds the engine's dependencies.
type Config struct {
	Store   run.Store
	Agents  *agent.Runner
	Catalog AgentSource
	Tools   *toolexecutor.ToolExecutor

	// Approvals is notified when a run suspends on an approval node. Optional;
	// the suspension itself is durable either way.
	Approvals run.ApprovalChannel

	// Events receives progress events for every run. Optional.
	Events run.EventSink

	// HTTPClient performs webhook node requests. Optional.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("agent catalog is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	events := cfg.Events
	if events == nil {
		events = run.NopSink{}
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: webhookTimeout}
	}

	return &Engine{
		store:      cfg.Store,
		agents:     cfg.Agents,
		catalog:    cfg.Catalog,
		tools:      cfg.Tools,
		approvals:  cfg.Approvals,
		events:     events,
		httpc:      httpc,
		logger:     cfg.Logger,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// wfState carries one run's in-memory traversal state. results and done are
// written by parallel branches and guarded by mu.
type wfState struct {
	rec *run.WorkflowRun
	w   *Workflow

	mu      sync.Mutex
	results map[string]interface{}
	done    map[string]bool
}

func (st *wfState) finish(res *run.NodeResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.done[res.NodeID] = true
	if res.Status == run.NodeCompleted {
		st.results[res.NodeID] = res.Output
	}
}

func (st *wfState) resultsSnapshot() map[string]interface{} {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]interface{}, len(st.results))
	for k, v := range st.results {
		out[k] = v
	}
	return out
}

// env composes the read-only lookup context for templates and condition
// expressions.
func (st *wfState) env() map[string]interface{} {
	return map[string]interface{}{
		"input":   st.rec.Input,
		"context": st.rec.Context,
		"results": st.resultsSnapshot(),
		"vars":    st.w.Variables,
	}
}

// nextFrontier drops already-executed and duplicate targets, preserving order.
func (st *wfState) nextFrontier(ids []string) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if seen[id] || st.done[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// readyFrontier recomputes the executable frontier from persisted state: every
// node not yet executed that is reachable over an active edge from an executed
// node. Condition edges are active only when their label matches the recorded
// boolean output. Used to resume a suspended run.
func (st *wfState) readyFrontier() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, edge := range st.w.Edges {
		if !st.done[edge.Source] || st.done[edge.Target] || seen[edge.Target] {
			continue
		}
		src := st.w.NodeByID(edge.Source)
		if src != nil && src.Type == KindCondition {
			b, _ := st.results[edge.Source].(bool)
			want := "false"
			if b {
				want = "true"
			}
			if edge.Label != want {
				continue
			}
		}
		seen[edge.Target] = true
		out = append(out, edge.Target)
	}
	return out
}

// Run executes a workflow to completion or suspension. Execution failures do
// not come back as errors; they land on the returned record as a terminal
// status plus a readable error message. The returned error covers only
// validation and store failures that prevent the run from starting.
func (e *Engine) Run(ctx context.Context, w *Workflow, input interface{}, runContext map[string]interface{}) (*run.WorkflowRun, error) {
	st, err := e.prepare(ctx, w, input, runContext)
	if err != nil {
		return nil, err
	}

	e.emitStarted(st.rec.ID)
	e.execute(ctx, st, e.events, []string{st.w.Trigger().ID}, "workflow.run")
	return st.rec, nil
}

// RunStreaming starts a workflow run in the background and streams node and
// approval events plus a terminal complete/error event. The channel is closed
// when the run reaches a terminal status or suspends for approval.
func (e *Engine) RunStreaming(ctx context.Context, w *Workflow, input interface{}, runContext map[string]interface{}) (string, <-chan run.Event, error) {
	st, err := e.prepare(ctx, w, input, runContext)
	if err != nil {
		return "", nil, err
	}

	ch := make(chan run.Event, eventBuffer)
	sink := run.CombineSinks(run.ChanSink(ch), e.events)

	e.emitStarted(st.rec.ID)
	go func() {
		defer close(ch)
		e.execute(ctx, st, sink, []string{st.w.Trigger().ID}, "workflow.run")
	}()

	return st.rec.ID, ch, nil
}

// emitStarted announces a new run on the engine-level sinks.
func (e *Engine) emitStarted(runID string) {
	ev := run.NewEvent(run.EventRunStart, runID)
	ev.Status = run.StatusRunning
	e.events.Emit(ev)
}

// ApproveRun resolves a suspended run's open approval request. Denial fails
// the run; approval resumes traversal from the approval node's successors,
// rebuilding state from persisted node results. It works across process
// restarts because the graph travels with the run record.
func (e *Engine) ApproveRun(ctx context.Context, runID string, approved bool) (*run.WorkflowRun, error) {
	rec, err := e.store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status != run.StatusWaitingApproval {
		return nil, run.NewValidationError("run %s is not waiting for approval (status %s)", runID, rec.Status)
	}
	req, err := e.store.OpenApproval(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, run.NewValidationError("run %s has no open approval request", runID)
	}

	var w Workflow
	if err := json.Unmarshal(rec.Definition, &w); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	node := w.NodeByID(req.NodeID)
	if node == nil {
		return nil, fmt.Errorf("approval node %s is not in the stored definition", req.NodeID)
	}

	st, err := e.rebuild(ctx, rec, &w)
	if err != nil {
		return nil, err
	}

	resolution := run.ResolutionDenied
	if approved {
		resolution = run.ResolutionApproved
	}
	if err := e.store.ResolveApproval(ctx, req.ID, resolution); err != nil {
		return nil, err
	}

	logger := e.logger.With().
		Str("run_id", rec.ID).
		Str("workflow_id", rec.WorkflowID).
		Logger()

	now := time.Now().UnixMilli()
	res := &run.NodeResult{
		RunID:       rec.ID,
		NodeID:      node.ID,
		NodeType:    string(node.Type),
		StartedAt:   req.CreatedAt,
		CompletedAt: &now,
		DurationMs:  now - req.CreatedAt,
	}
	if approved {
		res.Status = run.NodeCompleted
		res.Output = "approved"
	} else {
		res.Status = run.NodeFailed
		res.Error = "approval denied"
	}
	if _, err := e.store.AppendNodeResult(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to persist approval result: %w", err)
	}
	st.finish(res)

	ev := run.NewEvent(run.EventNodeComplete, rec.ID)
	ev.NodeID = node.ID
	ev.Status = run.StatusRunning
	ev.NodeResult = res
	e.events.Emit(ev)

	if !approved {
		logger.Info().Str("node_id", node.ID).Msg("Approval denied")
		e.finalize(st.rec, run.StatusFailed, nil, fmt.Sprintf("approval denied at node %s", node.ID), e.events, logger)
		return st.rec, nil
	}

	logger.Info().Str("node_id", node.ID).Msg("Approval granted, resuming run")
	if err := e.store.UpdateWorkflowRunStatus(ctx, rec.ID, run.StatusRunning); err != nil {
		return nil, fmt.Errorf("failed to resume run: %w", err)
	}
	rec.Status = run.StatusRunning

	e.execute(ctx, st, e.events, st.readyFrontier(), "workflow.resume")
	return st.rec, nil
}

// Cancel aborts a running workflow execution. The terminal state is written
// by the execution goroutine when it observes the cancelled context. A run
// suspended for approval has no active execution and is not affected.
func (e *Engine) Cancel(runID string) error {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	cancel, exists := e.activeRuns[runID]
	if !exists {
		e.logger.Debug().Str("run_id", runID).Msg("No active run to cancel")
		return nil
	}

	e.logger.Info().Str("run_id", runID).Msg("Cancelling workflow run")
	cancel()
	delete(e.activeRuns, runID)

	return nil
}

// IsRunning checks if a run is currently executing.
func (e *Engine) IsRunning(runID string) bool {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()

	_, exists := e.activeRuns[runID]
	return exists
}

// prepare validates the graph and creates the run record. The definition is
// snapshotted onto the record so suspension survives registry changes.
func (e *Engine) prepare(ctx context.Context, w *Workflow, input interface{}, runContext map[string]interface{}) (*wfState, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	def, err := json.Marshal(w)
	if err != nil {
		return nil, run.NewValidationError("workflow definition is not serializable: %v", err)
	}

	rec := &run.WorkflowRun{
		ID:           run.NewID("wfr"),
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Status:       run.StatusRunning,
		Input:        input,
		Context:      runContext,
		Definition:   def,
		StartedAt:    time.Now().UnixMilli(),
	}
	if err := e.store.CreateWorkflowRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}

	return &wfState{
		rec:     rec,
		w:       w,
		results: make(map[string]interface{}),
		done:    make(map[string]bool),
	}, nil
}

// rebuild reconstructs traversal state from persisted node results.
func (e *Engine) rebuild(ctx context.Context, rec *run.WorkflowRun, w *Workflow) (*wfState, error) {
	rows, err := e.store.ListNodeResults(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node results: %w", err)
	}

	st := &wfState{
		rec:     rec,
		w:       w,
		results: make(map[string]interface{}, len(rows)),
		done:    make(map[string]bool, len(rows)),
	}
	for _, res := range rows {
		st.done[res.NodeID] = true
		if res.Status == run.NodeCompleted {
			st.results[res.NodeID] = res.Output
		}
	}
	return st, nil
}

// execute drives the traversal from the given frontier and writes the
// terminal state, unless the run suspends for approval.
func (e *Engine) execute(ctx context.Context, st *wfState, sink run.EventSink, frontier []string, spanName string) {
	rec := st.rec
	ctx = tracing.WithWorkflowID(tracing.WithRunID(ctx, rec.ID), rec.WorkflowID)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerWorkflow, spanName)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.runsMu.Lock()
	e.activeRuns[rec.ID] = cancel
	e.runsMu.Unlock()

	defer func() {
		e.runsMu.Lock()
		delete(e.activeRuns, rec.ID)
		e.runsMu.Unlock()
	}()

	defer func() {
		if rv := recover(); rv != nil {
			uerr := &run.UnexpectedError{Err: fmt.Errorf("%v", rv)}
			logger.Error().Interface("panic", rv).Msg("Workflow run panicked")
			span.SetStatus(codes.Error, uerr.Error())
			e.finalize(rec, run.StatusFailed, nil, uerr.Error(), sink, logger)
		}
	}()

	suspended, err := e.traverse(execCtx, st, sink, frontier, logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.failOrCancel(execCtx, rec, err, sink, logger)
		return
	}
	if suspended {
		logger.Info().Str("node_id", rec.CurrentNodeID).Msg("Workflow run suspended")
		return
	}

	e.finalize(rec, run.StatusCompleted, st.resultsSnapshot(), "", sink, logger)
}

// traverse walks the graph wavefront by wavefront. It returns suspended=true
// when an approval node durably parked the run, or an error when a node
// failed or the context was cancelled.
func (e *Engine) traverse(ctx context.Context, st *wfState, sink run.EventSink, frontier []string, logger zerolog.Logger) (bool, error) {
	frontier = st.nextFrontier(frontier)

	for len(frontier) > 0 {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		var parallel, sequential []*Node
		for _, id := range frontier {
			node := st.w.NodeByID(id)
			if node == nil {
				return false, fmt.Errorf("node %s is not in the definition", id)
			}
			if node.Type == KindParallel {
				parallel = append(parallel, node)
			} else {
				sequential = append(sequential, node)
			}
		}

		var next []string

		for _, node := range parallel {
			res := e.runNode(ctx, st, node, sink, logger)
			if res.Status != run.NodeCompleted {
				return false, fmt.Errorf("node %s failed: %s", node.ID, res.Error)
			}

			targets, err := e.fanOut(ctx, st, node, sink, logger)
			if err != nil {
				return false, err
			}
			next = append(next, targets...)
		}

		for _, node := range sequential {
			if node.Type == KindApproval {
				if err := e.suspend(ctx, st, node, sink, logger); err != nil {
					return false, err
				}
				return true, nil
			}

			st.rec.CurrentNodeID = node.ID
			res := e.runNode(ctx, st, node, sink, logger)
			if res.Status != run.NodeCompleted {
				return false, fmt.Errorf("node %s failed: %s", node.ID, res.Error)
			}
			next = append(next, successors(st.w, node, res.Output)...)
		}

		frontier = st.nextFrontier(next)
	}

	return false, nil
}

// fanOut runs all of a parallel node's immediate successors concurrently and
// joins. A failing branch does not cancel its siblings; after the join the
// first failure, in edge order, fails the run. A branch that is itself a
// parallel node fans out recursively, so nesting keeps its concurrency.
func (e *Engine) fanOut(ctx context.Context, st *wfState, node *Node, sink run.EventSink, logger zerolog.Logger) ([]string, error) {
	branchIDs := st.nextFrontier(successors(st.w, node, nil))

	branches := make([]*Node, 0, len(branchIDs))
	for _, id := range branchIDs {
		bn := st.w.NodeByID(id)
		if bn == nil {
			return nil, fmt.Errorf("node %s is not in the definition", id)
		}
		branches = append(branches, bn)
	}

	results := make([]*run.NodeResult, len(branches))
	var wg sync.WaitGroup
	for i, bn := range branches {
		wg.Add(1)
		go func(i int, bn *Node) {
			defer wg.Done()
			results[i] = e.runNode(ctx, st, bn, sink, logger)
		}(i, bn)
	}
	wg.Wait()

	for i, res := range results {
		if res.Status != run.NodeCompleted {
			return nil, fmt.Errorf("node %s failed: %s", branches[i].ID, res.Error)
		}
	}

	var next []string
	for i, bn := range branches {
		if bn.Type == KindParallel {
			targets, err := e.fanOut(ctx, st, bn, sink, logger)
			if err != nil {
				return nil, err
			}
			next = append(next, targets...)
			continue
		}
		next = append(next, successors(st.w, bn, results[i].Output)...)
	}
	return next, nil
}

// runNode executes one node, contains any panic, persists the durable record
// and emits node_start/node_complete events. It never returns an error; the
// outcome is the result's status.
func (e *Engine) runNode(ctx context.Context, st *wfState, node *Node, sink run.EventSink, logger zerolog.Logger) *run.NodeResult {
	res := &run.NodeResult{
		RunID:     st.rec.ID,
		NodeID:    node.ID,
		NodeType:  string(node.Type),
		Status:    run.NodeRunning,
		StartedAt: time.Now().UnixMilli(),
	}

	ev := run.NewEvent(run.EventNodeStart, st.rec.ID)
	ev.NodeID = node.ID
	ev.Status = run.StatusRunning
	sink.Emit(ev)

	logger.Debug().Str("node_id", node.ID).Str("kind", string(node.Type)).Msg("Node started")

	func() {
		defer func() {
			if rv := recover(); rv != nil {
				logger.Error().Str("node_id", node.ID).Interface("panic", rv).Msg("Node panicked")
				res.Status = run.NodeFailed
				res.Error = fmt.Sprintf("panic: %v", rv)
			}
		}()

		out, err := e.executeNode(ctx, st, node)
		if err != nil {
			res.Status = run.NodeFailed
			res.Error = err.Error()
			return
		}
		res.Status = run.NodeCompleted
		res.Output = out
	}()

	now := time.Now().UnixMilli()
	res.CompletedAt = &now
	res.DurationMs = now - res.StartedAt

	if _, err := e.store.AppendNodeResult(ctx, res); err != nil {
		logger.Error().Err(err).Str("node_id", node.ID).Msg("Failed to persist node result")
		if res.Status == run.NodeCompleted {
			res.Status = run.NodeFailed
			res.Error = fmt.Sprintf("failed to persist node result: %v", err)
		}
	}
	st.finish(res)

	ev = run.NewEvent(run.EventNodeComplete, st.rec.ID)
	ev.NodeID = node.ID
	ev.Status = run.StatusRunning
	ev.NodeResult = res
	sink.Emit(ev)

	if res.Status == run.NodeCompleted {
		logger.Info().
			Str("node_id", node.ID).
			Str("kind", string(node.Type)).
			Int64("duration_ms", res.DurationMs).
			Msg("Node completed")
	} else {
		logger.Warn().
			Str("node_id", node.ID).
			Str("kind", string(node.Type)).
			Str("error", res.Error).
			Msg("Node failed")
	}

	return res
}

// executeNode dispatches on the node kind. The switch is exhaustive over the
// closed enum; validation rejects anything else before a run starts.
func (e *Engine) executeNode(ctx context.Context, st *wfState, node *Node) (interface{}, error) {
	switch node.Type {
	case KindTrigger:
		return st.rec.Input, nil

	case KindAgent:
		agentID, _ := node.stringConfig("agent")
		input := stringify(st.rec.Input)
		if tmpl, ok := node.stringConfig("input"); ok {
			input = ResolveString(tmpl, st.env())
		}
		def, err := e.catalog.GetAgent(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", agentID, err)
		}
		nested, err := e.agents.Run(ctx, def, input, st.rec.Context)
		if err != nil {
			return nil, err
		}
		if nested.Status != run.StatusCompleted {
			return nil, fmt.Errorf("agent run %s %s: %s", nested.ID, nested.Status, nested.Error)
		}
		return nested.Output, nil

	case KindTool:
		name, _ := node.stringConfig("tool")
		params := map[string]interface{}{}
		if raw, ok := node.mapConfig("params"); ok {
			params, _ = ResolveValue(raw, st.env()).(map[string]interface{})
		}
		result := e.tools.Execute(ctx, name, params, &toolexecutor.ExecutionContext{})
		if !result.Success {
			return nil, &run.ToolExecutionError{Tool: name, Message: result.Error}
		}
		return result.Result, nil

	case KindCondition:
		src, _ := node.stringConfig("expression")
		ok, err := evalCondition(src, st.env())
		if err != nil {
			return nil, err
		}
		return ok, nil

	case KindDelay:
		secs, _ := node.numberConfig("seconds")
		d := time.Duration(secs * float64(time.Second))
		select {
		case <-time.After(d):
			return fmt.Sprintf("delayed %s", d), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case KindParallel:
		// Marker; the traversal performs the fan-out.
		return map[string]interface{}{"branches": successors(st.w, node, nil)}, nil

	case KindApproval:
		// The traversal suspends on approval nodes before reaching here.
		return nil, fmt.Errorf("approval node %s cannot execute directly", node.ID)

	case KindWebhook:
		return e.callWebhook(ctx, st, node)

	case KindEnd:
		return st.resultsSnapshot(), nil

	default:
		return nil, run.NewValidationError("node %s has unknown kind: %s", node.ID, node.Type)
	}
}

// suspend durably parks the run on an approval node: the request and the
// waiting status are persisted, the channel is notified, and the caller's
// traversal exits. No goroutine waits for the decision.
func (e *Engine) suspend(ctx context.Context, st *wfState, node *Node, sink run.EventSink, logger zerolog.Logger) error {
	ev := run.NewEvent(run.EventNodeStart, st.rec.ID)
	ev.NodeID = node.ID
	ev.Status = run.StatusRunning
	sink.Emit(ev)

	message := fmt.Sprintf("approval required for workflow %s", st.rec.WorkflowName)
	if m, ok := node.stringConfig("message"); ok {
		message = ResolveString(m, st.env())
	}

	req := &run.ApprovalRequest{
		ID:         run.NewID("apr"),
		RunID:      st.rec.ID,
		NodeID:     node.ID,
		Message:    message,
		Snapshot:   st.env(),
		Resolution: run.ResolutionPending,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := e.store.CreateApproval(ctx, req); err != nil {
		return fmt.Errorf("failed to persist approval request: %w", err)
	}

	st.rec.Status = run.StatusWaitingApproval
	st.rec.CurrentNodeID = node.ID
	if err := e.store.UpdateWorkflowRun(ctx, st.rec); err != nil {
		return fmt.Errorf("failed to persist waiting state: %w", err)
	}

	if e.approvals != nil {
		if err := e.approvals.Notify(ctx, req); err != nil {
			logger.Warn().Err(err).Str("approval_id", req.ID).Msg("Approval notification failed")
		}
	}

	ev = run.NewEvent(run.EventApprovalNeeded, st.rec.ID)
	ev.NodeID = node.ID
	ev.Status = run.StatusWaitingApproval
	ev.Approval = req
	sink.Emit(ev)

	logger.Info().
		Str("node_id", node.ID).
		Str("approval_id", req.ID).
		Msg("Workflow suspended for approval")

	return nil
}

// callWebhook performs the HTTP request a webhook node describes. Transport
// failures fail the node; the response status is data, not an error, so a
// condition node can branch on it.
func (e *Engine) callWebhook(ctx context.Context, st *wfState, node *Node) (interface{}, error) {
	env := st.env()

	rawURL, _ := node.stringConfig("url")
	url := ResolveString(rawURL, env)

	method := http.MethodPost
	if m, ok := node.stringConfig("method"); ok {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if payload, ok := node.Config["payload"]; ok && payload != nil {
		b, err := json.Marshal(ResolveValue(payload, env))
		if err != nil {
			return nil, fmt.Errorf("encode webhook payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	return map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(b),
	}, nil
}

// failOrCancel distinguishes failures caused by a cancelled run from genuine
// execution failures.
func (e *Engine) failOrCancel(ctx context.Context, rec *run.WorkflowRun, err error, sink run.EventSink, logger zerolog.Logger) {
	if ctx.Err() != nil {
		e.finalize(rec, run.StatusCancelled, nil, "run cancelled", sink, logger)
		return
	}
	e.finalize(rec, run.StatusFailed, nil, err.Error(), sink, logger)
}

// finalize writes the terminal run state and emits the terminal event. It
// uses its own context so the write succeeds even after cancellation.
func (e *Engine) finalize(rec *run.WorkflowRun, status run.Status, output interface{}, errMsg string, sink run.EventSink, logger zerolog.Logger) {
	now := time.Now().UnixMilli()
	rec.Status = status
	rec.Output = output
	rec.Error = errMsg
	rec.CompletedAt = &now
	rec.DurationMs = now - rec.StartedAt

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateWorkflowRun(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to persist terminal run state")
	}

	if status == run.StatusCompleted {
		ev := run.NewEvent(run.EventComplete, rec.ID)
		ev.Status = status
		ev.Output = output
		ev.DurationMs = rec.DurationMs
		sink.Emit(ev)

		logger.Info().Int64("duration_ms", rec.DurationMs).Msg("Workflow run completed")
		return
	}

	ev := run.NewEvent(run.EventError, rec.ID)
	ev.Status = status
	ev.Error = errMsg
	ev.DurationMs = rec.DurationMs
	sink.Emit(ev)

	logger.Warn().
		Str("status", string(status)).
		Str("error", errMsg).
		Msg("Workflow run did not complete")
}

// successors returns the targets of a node's outgoing edges. Condition nodes
// follow only the edges whose label matches their boolean output.
func successors(w *Workflow, node *Node, output interface{}) []string {
	edges := w.Outgoing(node.ID)

	if node.Type == KindCondition {
		b, _ := output.(bool)
		want := "false"
		if b {
			want = "true"
		}
		var out []string
		for _, e := range edges {
			if e.Label == want {
				out = append(out, e.Target)
			}
		}
		return out
	}

	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Target)
	}
	return out
}

// evalCondition compiles and runs a boolean expression against a read-only
// snapshot of the run state.
func evalCondition(src string, env map[string]interface{}) (bool, error) {
	prog, err := expr.Compile(src, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return b, nil
}
