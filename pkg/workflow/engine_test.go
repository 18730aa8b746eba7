package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selim/orkestra/pkg/agent"
	"github.com/selim/orkestra/pkg/provider"
	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/store"
	"github.com/selim/orkestra/pkg/toolexecutor"
)

// fixedProvider always answers with the same text and never calls tools.
type fixedProvider struct {
	reply string
}

func (p fixedProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	return &provider.Response{
		Content: p.reply,
		Usage:   provider.TokenUsage{InputTokens: 3, OutputTokens: 3},
	}, nil
}

func (p fixedProvider) Name() string { return "fixed" }

type fixedOpener struct {
	prov provider.ChatCompletionProvider
}

func (o fixedOpener) New(name string) (provider.ChatCompletionProvider, error) {
	return o.prov, nil
}

// stubCatalog serves agent definitions from a map.
type stubCatalog map[string]*run.Agent

func (c stubCatalog) GetAgent(ctx context.Context, id string) (*run.Agent, error) {
	def, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	return def, nil
}

// recordingChannel captures approval notifications.
type recordingChannel struct {
	mu       sync.Mutex
	requests []*run.ApprovalRequest
}

func (c *recordingChannel) Notify(ctx context.Context, req *run.ApprovalRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type engineFixture struct {
	engine    *Engine
	store     *store.SQLite
	executor  *toolexecutor.ToolExecutor
	approvals *recordingChannel
}

func setupTestEngine(t *testing.T, catalog stubCatalog) (*engineFixture, func()) {
	t.Helper()

	s, err := store.New(store.Config{
		Path:   filepath.Join(t.TempDir(), "runs.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	executor := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop()})

	runner, err := agent.NewRunner(agent.Config{
		Store:     s,
		Tools:     executor,
		Providers: fixedOpener{prov: fixedProvider{reply: "Paris"}},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	approvals := &recordingChannel{}
	engine, err := NewEngine(Config{
		Store:     s,
		Agents:    runner,
		Catalog:   catalog,
		Tools:     executor,
		Approvals: approvals,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	fx := &engineFixture{engine: engine, store: s, executor: executor, approvals: approvals}
	return fx, func() { s.Close() }
}

func registerMarkerTool(t *testing.T, executor *toolexecutor.ToolExecutor, name string) *[]string {
	t.Helper()

	var mu sync.Mutex
	calls := &[]string{}
	err := executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        name,
		Description: "Records that it ran and echoes its tag",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "tag", Type: "string", Description: "Marker tag", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			tag, _ := params["tag"].(string)
			mu.Lock()
			*calls = append(*calls, tag)
			mu.Unlock()
			return tag, nil
		},
	})
	require.NoError(t, err)
	return calls
}

func linearWorkflow(nodes []Node) *Workflow {
	w := &Workflow{ID: "wf_test", Name: "test", Nodes: nodes}
	for i := 0; i+1 < len(nodes); i++ {
		w.Edges = append(w.Edges, Edge{Source: nodes[i].ID, Target: nodes[i+1].ID})
	}
	return w
}

func TestNewEngine(t *testing.T) {
	t.Run("should reject missing store", func(t *testing.T) {
		_, err := NewEngine(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store")
	})
}

func TestRunValidationFailsFast(t *testing.T) {
	fx, cleanup := setupTestEngine(t, stubCatalog{})
	defer cleanup()

	w := &Workflow{
		ID:    "wf_no_trigger",
		Name:  "broken",
		Nodes: []Node{{ID: "finish", Type: KindEnd}},
	}

	_, err := fx.engine.Run(context.Background(), w, "hi", nil)
	require.Error(t, err)
	assert.True(t, run.IsValidation(err))
	assert.Contains(t, err.Error(), "trigger")

	// Validation failures must not leave a run record behind.
	runs, err := fx.store.ListWorkflowRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun(t *testing.T) {
	t.Run("should complete a trigger to agent to end chain", func(t *testing.T) {
		catalog := stubCatalog{"geo": {
			ID: "geo", Name: "geo", Provider: "openai", Model: "gpt-test", MaxSteps: 3,
		}}
		fx, cleanup := setupTestEngine(t, catalog)
		defer cleanup()

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "ask", Type: KindAgent, Config: map[string]interface{}{"agent": "geo", "input": "{{input}}"}},
			{ID: "finish", Type: KindEnd},
		})

		rec, err := fx.engine.Run(context.Background(), w, "capital of France", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusCompleted, rec.Status)
		require.NotNil(t, rec.CompletedAt)
		assert.Equal(t, *rec.CompletedAt-rec.StartedAt, rec.DurationMs)

		out, ok := rec.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Paris", out["ask"])

		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		require.Len(t, results, 3)
		for i, res := range results {
			assert.Equal(t, i+1, res.Seq)
			assert.Equal(t, run.NodeCompleted, res.Status)
		}
	})

	t.Run("should follow only the matching condition edge", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()
		calls := registerMarkerTool(t, fx.executor, "mark")

		w := &Workflow{
			ID:   "wf_branch",
			Name: "branch",
			Nodes: []Node{
				{ID: "start", Type: KindTrigger},
				{ID: "check", Type: KindCondition, Config: map[string]interface{}{"expression": "1 > 0"}},
				{ID: "yes", Type: KindTool, Config: map[string]interface{}{"tool": "mark", "params": map[string]interface{}{"tag": "yes"}}},
				{ID: "no", Type: KindTool, Config: map[string]interface{}{"tool": "mark", "params": map[string]interface{}{"tag": "no"}}},
				{ID: "finish", Type: KindEnd},
			},
			Edges: []Edge{
				{Source: "start", Target: "check"},
				{Source: "check", Target: "yes", Label: "true"},
				{Source: "check", Target: "no", Label: "false"},
				{Source: "yes", Target: "finish"},
				{Source: "no", Target: "finish"},
			},
		}

		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusCompleted, rec.Status)
		assert.Equal(t, []string{"yes"}, *calls)

		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		executed := make(map[string]run.NodeStatus, len(results))
		for _, res := range results {
			executed[res.NodeID] = res.Status
		}
		assert.Contains(t, executed, "yes")
		assert.NotContains(t, executed, "no")
	})

	t.Run("should run parallel branches concurrently and join before proceeding", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		w := &Workflow{
			ID:   "wf_fan",
			Name: "fan",
			Nodes: []Node{
				{ID: "start", Type: KindTrigger},
				{ID: "fork", Type: KindParallel},
				{ID: "fast", Type: KindDelay, Config: map[string]interface{}{"seconds": 0.1}},
				{ID: "slow", Type: KindDelay, Config: map[string]interface{}{"seconds": 0.5}},
				{ID: "finish", Type: KindEnd},
			},
			Edges: []Edge{
				{Source: "start", Target: "fork"},
				{Source: "fork", Target: "fast"},
				{Source: "fork", Target: "slow"},
				{Source: "fast", Target: "finish"},
				{Source: "slow", Target: "finish"},
			},
		}

		started := time.Now()
		runID, events, err := fx.engine.RunStreaming(context.Background(), w, "go", nil)
		require.NoError(t, err)

		var completes []string
		var terminal run.Event
		for ev := range events {
			if ev.Type == run.EventNodeComplete {
				completes = append(completes, ev.NodeID)
			}
			if ev.Terminal() {
				terminal = ev
			}
		}
		elapsed := time.Since(started)

		assert.Equal(t, run.EventComplete, terminal.Type)

		// Both branches finish before the join lets the end node run.
		endIdx, fastIdx, slowIdx := -1, -1, -1
		for i, id := range completes {
			switch id {
			case "finish":
				endIdx = i
			case "fast":
				fastIdx = i
			case "slow":
				slowIdx = i
			}
		}
		require.GreaterOrEqual(t, fastIdx, 0)
		require.GreaterOrEqual(t, slowIdx, 0)
		require.GreaterOrEqual(t, endIdx, 0)
		assert.Less(t, fastIdx, endIdx)
		assert.Less(t, slowIdx, endIdx)

		// Concurrent, not sequential: bounded by the slow branch.
		assert.Less(t, elapsed, 580*time.Millisecond)
		assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)

		rec, err := fx.store.GetWorkflowRun(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusCompleted, rec.Status)
	})

	t.Run("should keep concurrency across nested parallel nodes", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		w := &Workflow{
			ID:   "wf_nested_fan",
			Name: "nested fan",
			Nodes: []Node{
				{ID: "start", Type: KindTrigger},
				{ID: "outer", Type: KindParallel},
				{ID: "a", Type: KindDelay, Config: map[string]interface{}{"seconds": 0.1}},
				{ID: "inner", Type: KindParallel},
				{ID: "b", Type: KindDelay, Config: map[string]interface{}{"seconds": 0.4}},
				{ID: "c", Type: KindDelay, Config: map[string]interface{}{"seconds": 0.4}},
				{ID: "finish", Type: KindEnd},
			},
			Edges: []Edge{
				{Source: "start", Target: "outer"},
				{Source: "outer", Target: "a"},
				{Source: "outer", Target: "inner"},
				{Source: "inner", Target: "b"},
				{Source: "inner", Target: "c"},
				{Source: "a", Target: "finish"},
				{Source: "b", Target: "finish"},
				{Source: "c", Target: "finish"},
			},
		}

		started := time.Now()
		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		elapsed := time.Since(started)

		require.NoError(t, err)
		assert.Equal(t, run.StatusCompleted, rec.Status)

		// The inner pair overlaps; run serially they alone would take 800ms.
		assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
		assert.Less(t, elapsed, 750*time.Millisecond)

		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		done := map[string]bool{}
		for _, res := range results {
			if res.Status == run.NodeCompleted {
				done[res.NodeID] = true
			}
		}
		for _, id := range []string{"a", "b", "c", "inner", "outer", "finish"} {
			assert.True(t, done[id], "node %s should have completed", id)
		}
	})

	t.Run("should not cancel a sibling branch when one fails", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()
		calls := registerMarkerTool(t, fx.executor, "mark")

		err := fx.executor.RegisterTool(toolexecutor.ToolDefinition{
			Name:        "explode",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, fmt.Errorf("boom")
			},
		})
		require.NoError(t, err)

		w := &Workflow{
			ID:   "wf_halffail",
			Name: "halffail",
			Nodes: []Node{
				{ID: "start", Type: KindTrigger},
				{ID: "fork", Type: KindParallel},
				{ID: "bad", Type: KindTool, Config: map[string]interface{}{"tool": "explode"}},
				{ID: "good", Type: KindTool, Config: map[string]interface{}{"tool": "mark", "params": map[string]interface{}{"tag": "good"}}},
				{ID: "finish", Type: KindEnd},
			},
			Edges: []Edge{
				{Source: "start", Target: "fork"},
				{Source: "fork", Target: "bad"},
				{Source: "fork", Target: "good"},
				{Source: "bad", Target: "finish"},
				{Source: "good", Target: "finish"},
			},
		}

		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusFailed, rec.Status)
		assert.Contains(t, rec.Error, "bad")
		assert.Contains(t, rec.Error, "boom")

		// The sibling ran to completion and its record survived the join.
		assert.Equal(t, []string{"good"}, *calls)
		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		statuses := make(map[string]run.NodeStatus, len(results))
		for _, res := range results {
			statuses[res.NodeID] = res.Status
		}
		assert.Equal(t, run.NodeFailed, statuses["bad"])
		assert.Equal(t, run.NodeCompleted, statuses["good"])
	})

	t.Run("should fail the run when a sequential node fails", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		err := fx.executor.RegisterTool(toolexecutor.ToolDefinition{
			Name:        "explode",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, fmt.Errorf("boom")
			},
		})
		require.NoError(t, err)

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "bad", Type: KindTool, Config: map[string]interface{}{"tool": "explode"}},
			{ID: "finish", Type: KindEnd},
		})

		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusFailed, rec.Status)
		assert.Contains(t, rec.Error, "bad")
		assert.Contains(t, rec.Error, "boom")

		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		var found bool
		for _, res := range results {
			if res.NodeID == "bad" {
				found = true
				assert.Equal(t, run.NodeFailed, res.Status)
				assert.Contains(t, res.Error, "boom")
			}
			if res.NodeID == "finish" {
				t.Fatalf("end node ran after a failed node")
			}
		}
		assert.True(t, found)
	})

	t.Run("should record a panicking node as failed instead of escaping", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		err := fx.executor.RegisterTool(toolexecutor.ToolDefinition{
			Name:        "kaboom",
			Description: "Panics",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				panic("wires crossed")
			},
		})
		require.NoError(t, err)

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "bad", Type: KindTool, Config: map[string]interface{}{"tool": "kaboom"}},
			{ID: "finish", Type: KindEnd},
		})

		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusFailed, rec.Status)
		assert.Contains(t, rec.Error, "bad")
		assert.Contains(t, rec.Error, "wires crossed")
	})

	t.Run("should resolve templates and keep the literal path on a miss", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		var got map[string]interface{}
		err := fx.executor.RegisterTool(toolexecutor.ToolDefinition{
			Name:        "capture",
			Description: "Captures its parameters",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "present", Type: "string", Description: "Resolvable value", Required: true},
				{Name: "absent", Type: "string", Description: "Unresolvable value", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				got = params
				return "ok", nil
			},
		})
		require.NoError(t, err)

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "grab", Type: KindTool, Config: map[string]interface{}{
				"tool": "capture",
				"params": map[string]interface{}{
					"present": "{{input}}",
					"absent":  "{{results.never_ran}}",
				},
			}},
			{ID: "finish", Type: KindEnd},
		})

		rec, err := fx.engine.Run(context.Background(), w, "hello", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusCompleted, rec.Status)
		require.NotNil(t, got)
		assert.Equal(t, "hello", got["present"])
		assert.Equal(t, "results.never_ran", got["absent"])
	})

	t.Run("should call webhook nodes and expose status and body", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"ok":true}`)
		}))
		defer srv.Close()

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "ping", Type: KindWebhook, Config: map[string]interface{}{
				"url":     srv.URL,
				"payload": map[string]interface{}{"echo": "{{input}}"},
			}},
			{ID: "finish", Type: KindEnd},
		})

		rec, err := fx.engine.Run(context.Background(), w, "hi", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusCompleted, rec.Status)
		out, ok := rec.Output.(map[string]interface{})
		require.True(t, ok)
		ping, ok := out["ping"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, http.StatusAccepted, ping["status"])
		assert.Contains(t, ping["body"], "ok")
	})
}

func approvalWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf_gate",
		Name: "gate",
		Nodes: []Node{
			{ID: "start", Type: KindTrigger},
			{ID: "gate", Type: KindApproval, Config: map[string]interface{}{"message": "release {{input}}?"}},
			{ID: "finish", Type: KindEnd},
		},
		Edges: []Edge{
			{Source: "start", Target: "gate"},
			{Source: "gate", Target: "finish"},
		},
	}
}

func TestApproval(t *testing.T) {
	t.Run("should suspend durably on an approval node", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		rec, err := fx.engine.Run(context.Background(), approvalWorkflow(), "v2", nil)
		require.NoError(t, err)

		assert.Equal(t, run.StatusWaitingApproval, rec.Status)
		assert.Equal(t, "gate", rec.CurrentNodeID)
		assert.False(t, fx.engine.IsRunning(rec.ID))

		// The waiting state and the open request survive in the store.
		stored, err := fx.store.GetWorkflowRun(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusWaitingApproval, stored.Status)

		req, err := fx.store.OpenApproval(context.Background(), rec.ID)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "gate", req.NodeID)
		assert.Equal(t, "release v2?", req.Message)
		assert.Equal(t, run.ResolutionPending, req.Resolution)

		assert.Equal(t, 1, fx.approvals.count())
	})

	t.Run("should fail the run when denied", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		rec, err := fx.engine.Run(context.Background(), approvalWorkflow(), "v2", nil)
		require.NoError(t, err)
		require.Equal(t, run.StatusWaitingApproval, rec.Status)

		resumed, err := fx.engine.ApproveRun(context.Background(), rec.ID, false)
		require.NoError(t, err)

		assert.Equal(t, run.StatusFailed, resumed.Status)
		assert.Contains(t, resumed.Error, "approval denied")

		req, err := fx.store.OpenApproval(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Nil(t, req)
	})

	t.Run("should resume to the successor when approved", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		rec, err := fx.engine.Run(context.Background(), approvalWorkflow(), "v2", nil)
		require.NoError(t, err)
		require.Equal(t, run.StatusWaitingApproval, rec.Status)

		resumed, err := fx.engine.ApproveRun(context.Background(), rec.ID, true)
		require.NoError(t, err)

		assert.Equal(t, run.StatusCompleted, resumed.Status)

		results, err := fx.store.ListNodeResults(context.Background(), rec.ID)
		require.NoError(t, err)
		byID := make(map[string]*run.NodeResult, len(results))
		for _, res := range results {
			byID[res.NodeID] = res
		}
		require.Contains(t, byID, "gate")
		assert.Equal(t, run.NodeCompleted, byID["gate"].Status)
		require.Contains(t, byID, "finish")
		assert.Equal(t, run.NodeCompleted, byID["finish"].Status)
	})

	t.Run("should reject approval of a run that is not waiting", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "finish", Type: KindEnd},
		})
		rec, err := fx.engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)
		require.Equal(t, run.StatusCompleted, rec.Status)

		_, err = fx.engine.ApproveRun(context.Background(), rec.ID, true)
		require.Error(t, err)
		assert.True(t, run.IsValidation(err))
	})
}

func TestCancel(t *testing.T) {
	t.Run("should mark a cancelled run and stop before the next node", func(t *testing.T) {
		fx, cleanup := setupTestEngine(t, stubCatalog{})
		defer cleanup()

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "nap", Type: KindDelay, Config: map[string]interface{}{"seconds": 5}},
			{ID: "finish", Type: KindEnd},
		})

		runID, events, err := fx.engine.RunStreaming(context.Background(), w, "go", nil)
		require.NoError(t, err)

		// Wait for the delay node to start before cancelling.
		for ev := range events {
			if ev.Type == run.EventNodeStart && ev.NodeID == "nap" {
				require.NoError(t, fx.engine.Cancel(runID))
				break
			}
		}
		var terminal run.Event
		for ev := range events {
			if ev.Terminal() {
				terminal = ev
			}
		}
		assert.Equal(t, run.EventError, terminal.Type)
		assert.Equal(t, run.StatusCancelled, terminal.Status)

		rec, err := fx.store.GetWorkflowRun(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusCancelled, rec.Status)

		results, err := fx.store.ListNodeResults(context.Background(), runID)
		require.NoError(t, err)
		for _, res := range results {
			assert.NotEqual(t, "finish", res.NodeID)
		}
	})
}

func TestEngineEventSink(t *testing.T) {
	t.Run("should announce runs and stamp durations on the engine sink", func(t *testing.T) {
		s, err := store.New(store.Config{
			Path:   filepath.Join(t.TempDir(), "runs.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		defer s.Close()

		executor := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop()})
		runner, err := agent.NewRunner(agent.Config{
			Store:     s,
			Tools:     executor,
			Providers: fixedOpener{prov: fixedProvider{reply: "Paris"}},
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		var mu sync.Mutex
		var events []run.Event
		engine, err := NewEngine(Config{
			Store:   s,
			Agents:  runner,
			Catalog: stubCatalog{},
			Tools:   executor,
			Events: run.SinkFunc(func(ev run.Event) {
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
			}),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)

		w := linearWorkflow([]Node{
			{ID: "start", Type: KindTrigger},
			{ID: "finish", Type: KindEnd},
		})
		rec, err := engine.Run(context.Background(), w, "go", nil)
		require.NoError(t, err)
		require.Equal(t, run.StatusCompleted, rec.Status)

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, events)
		assert.Equal(t, run.EventRunStart, events[0].Type)
		assert.Equal(t, rec.ID, events[0].RunID)

		terminal := events[len(events)-1]
		assert.Equal(t, run.EventComplete, terminal.Type)
		assert.Equal(t, rec.DurationMs, terminal.DurationMs)
	})
}
