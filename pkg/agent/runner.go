package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/selim/orkestra/internal/tracing"
	"github.com/selim/orkestra/pkg/provider"
	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/toolexecutor"
)

const (
	// defaultMaxSteps bounds agents that do not declare their own budget.
	defaultMaxSteps       = 10
	defaultTimeoutSeconds = 300

	// llmAttempts is the retry budget for one chat-completion call.
	llmAttempts = 3

	// eventBuffer sizes the per-run streaming channel.
	eventBuffer = 256
)

// ProviderOpener builds chat-completion providers by name.
type ProviderOpener interface {
	New(name string) (provider.ChatCompletionProvider, error)
}

// Runner executes agent runs against injected collaborators.
type Runner struct {
	store     run.Store
	tools     *toolexecutor.ToolExecutor
	providers ProviderOpener
	events    run.EventSink
	usage     func(provider string, inputTokens, outputTokens int)
	logger    zerolog.Logger

	// Active runs for cancel capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration.
type Config struct {
	Store     run.Store
	Tools     *toolexecutor.ToolExecutor
	Providers ProviderOpener
	Events    run.EventSink
	Logger    zerolog.Logger

	// Usage, when set, receives the token consumption of every successful
	// provider call.
	Usage func(provider string, inputTokens, outputTokens int)
}

// NewRunner creates a new agent runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	events := cfg.Events
	if events == nil {
		events = run.NopSink{}
	}

	return &Runner{
		store:      cfg.Store,
		tools:      cfg.Tools,
		providers:  cfg.Providers,
		events:     events,
		usage:      cfg.Usage,
		logger:     cfg.Logger,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// execState carries one run's prepared inputs through the loop.
type execState struct {
	rec            *run.AgentRun
	agent          *run.Agent
	prov           provider.ChatCompletionProvider
	specs          []provider.ToolSpec
	policy         *toolexecutor.ToolPolicy
	messages       []provider.Message
	maxSteps       int
	timeoutSeconds int
}

// Run executes an agent to completion. Execution failures do not come back
// as errors; they land on the returned record as a terminal status plus a
// readable error message. The returned error covers only validation and
// store failures that prevent the run from starting.
func (r *Runner) Run(ctx context.Context, agent *run.Agent, input string, runContext map[string]interface{}) (*run.AgentRun, error) {
	st, err := r.prepare(ctx, agent, input, runContext)
	if err != nil {
		return nil, err
	}

	r.emitStarted(st.rec.ID)
	r.execute(ctx, st, r.events)
	return st.rec, nil
}

// RunStreaming starts an agent run in the background and streams one event
// per persisted step plus a terminal complete/error event. The channel is
// closed after the terminal event.
func (r *Runner) RunStreaming(ctx context.Context, agent *run.Agent, input string, runContext map[string]interface{}) (string, <-chan run.Event, error) {
	st, err := r.prepare(ctx, agent, input, runContext)
	if err != nil {
		return "", nil, err
	}

	ch := make(chan run.Event, eventBuffer)
	sink := run.CombineSinks(run.ChanSink(ch), r.events)

	r.emitStarted(st.rec.ID)
	go func() {
		defer close(ch)
		r.execute(ctx, st, sink)
	}()

	return st.rec.ID, ch, nil
}

// emitStarted announces a new run on the engine-level sinks.
func (r *Runner) emitStarted(runID string) {
	ev := run.NewEvent(run.EventRunStart, runID)
	ev.Status = run.StatusRunning
	r.events.Emit(ev)
}

// Cancel aborts a running agent execution. The terminal state is written by
// the execution goroutine when it observes the cancelled context.
func (r *Runner) Cancel(runID string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[runID]
	if !exists {
		r.logger.Debug().Str("run_id", runID).Msg("No active run to cancel")
		return nil
	}

	r.logger.Info().Str("run_id", runID).Msg("Cancelling agent run")
	cancel()
	delete(r.activeRuns, runID)

	return nil
}

// IsRunning checks if a run is currently executing.
func (r *Runner) IsRunning(runID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[runID]
	return exists
}

// prepare validates the agent, resolves its provider and tool specs, and
// persists the initial run record.
func (r *Runner) prepare(ctx context.Context, agent *run.Agent, input string, runContext map[string]interface{}) (*execState, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}
	if input == "" {
		return nil, run.NewValidationError("input cannot be empty")
	}

	prov, err := r.providers.New(agent.Provider)
	if err != nil {
		return nil, run.NewValidationError("provider %s: %v", agent.Provider, err)
	}

	specs, err := r.buildToolSpecs(agent.Tools)
	if err != nil {
		return nil, err
	}

	rec := &run.AgentRun{
		ID:        run.NewID("run"),
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Status:    run.StatusRunning,
		Input:     input,
		Context:   runContext,
		StartedAt: time.Now().UnixMilli(),
	}
	if err := r.store.CreateAgentRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	systemPrompt := agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	if len(runContext) > 0 {
		if encoded, err := json.Marshal(runContext); err == nil {
			systemPrompt = fmt.Sprintf("%s\n\n# Run Context\n\n%s", systemPrompt, encoded)
		}
	}

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	timeoutSeconds := agent.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &execState{
		rec:    rec,
		agent:  agent,
		prov:   prov,
		specs:  specs,
		policy: toolexecutor.AllowOnly(agent.Tools),
		messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: input},
		},
		maxSteps:       maxSteps,
		timeoutSeconds: timeoutSeconds,
	}, nil
}

// validateAgent validates the agent definition.
func validateAgent(agent *run.Agent) error {
	if agent == nil {
		return run.NewValidationError("agent is required")
	}
	if agent.Provider == "" {
		return run.NewValidationError("agent has no provider")
	}
	if agent.Model == "" {
		return run.NewValidationError("agent has no model")
	}
	if agent.MaxSteps < 0 {
		return run.NewValidationError("max steps cannot be negative")
	}
	if agent.TimeoutSeconds < 0 {
		return run.NewValidationError("timeout cannot be negative")
	}
	if agent.Temperature < 0 || agent.Temperature > 2 {
		return run.NewValidationError("temperature must be between 0 and 2")
	}
	return nil
}

// buildToolSpecs converts the agent's allowed tool names into the specs
// advertised to the model.
func (r *Runner) buildToolSpecs(names []string) ([]provider.ToolSpec, error) {
	if len(names) == 0 {
		return nil, nil
	}

	specs := make([]provider.ToolSpec, 0, len(names))
	for _, name := range names {
		def := r.tools.GetTool(name)
		if def == nil {
			return nil, run.NewValidationError("tool not found: %s", name)
		}

		schema, _ := r.tools.InputSchema(name)
		specs = append(specs, provider.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}

	return specs, nil
}

// execute drives the reasoning loop until a plain text reply, the step
// budget, the time budget or cancellation ends the run. Budgets are checked
// between iterations, so a single overlong external call can overrun the
// nominal timeout.
func (r *Runner) execute(ctx context.Context, st *execState, sink run.EventSink) {
	rec := st.rec
	ctx = tracing.WithAgentID(tracing.WithRunID(ctx, rec.ID), rec.AgentID)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.run")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[rec.ID] = cancel
	r.runsMu.Unlock()

	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, rec.ID)
		r.runsMu.Unlock()
	}()

	totalTokens := 0

	defer func() {
		if rv := recover(); rv != nil {
			uerr := &run.UnexpectedError{Err: fmt.Errorf("%v", rv)}
			logger.Error().Interface("panic", rv).Msg("Agent run panicked")
			span.SetStatus(codes.Error, uerr.Error())
			r.finalize(rec, run.StatusFailed, "", uerr.Error(), totalTokens, sink, logger)
		}
	}()

	started := time.Now()
	timeout := time.Duration(st.timeoutSeconds) * time.Second

	for rec.StepsCompleted < st.maxSteps {
		if execCtx.Err() != nil {
			r.finalize(rec, run.StatusCancelled, "", "run cancelled", totalTokens, sink, logger)
			return
		}
		if time.Since(started) >= timeout {
			terr := &run.TimeoutError{What: "agent run", Seconds: st.timeoutSeconds}
			span.SetStatus(codes.Error, terr.Error())
			r.finalize(rec, run.StatusFailed, "", terr.Error(), totalTokens, sink, logger)
			return
		}

		iterStart := time.Now()
		resp, err := r.callWithRetry(execCtx, st.prov, provider.Request{
			Model:        st.agent.Model,
			Messages:     st.messages,
			Tools:        st.specs,
			Temperature:  st.agent.Temperature,
			MaxTokens:    st.agent.MaxTokens,
			SystemPrompt: st.messages[0].Content,
		})
		if err != nil {
			if execCtx.Err() != nil {
				r.finalize(rec, run.StatusCancelled, "", "run cancelled", totalTokens, sink, logger)
				return
			}

			step := &run.AgentRunStep{
				RunID:      rec.ID,
				Type:       run.StepError,
				Content:    err.Error(),
				DurationMs: time.Since(iterStart).Milliseconds(),
				CreatedAt:  time.Now().UnixMilli(),
			}
			if perr := r.appendStep(execCtx, rec, step, sink, logger); perr != nil {
				logger.Error().Err(perr).Msg("Failed to record provider error step")
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.finalize(rec, run.StatusFailed, "", err.Error(), totalTokens, sink, logger)
			return
		}

		totalTokens += resp.Usage.Total()
		if r.usage != nil {
			r.usage(st.agent.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		// Plain text reply ends the run.
		if len(resp.ToolCalls) == 0 {
			step := &run.AgentRunStep{
				RunID:      rec.ID,
				Type:       run.StepResponse,
				Content:    resp.Content,
				Tokens:     resp.Usage.Total(),
				DurationMs: time.Since(iterStart).Milliseconds(),
				CreatedAt:  time.Now().UnixMilli(),
			}
			if perr := r.appendStep(execCtx, rec, step, sink, logger); perr != nil {
				r.failOrCancel(execCtx, rec, perr, totalTokens, sink, logger)
				return
			}

			r.finalize(rec, run.StatusCompleted, resp.Content, "", totalTokens, sink, logger)
			return
		}

		// Tool calls requested: record any reasoning emitted alongside them.
		if resp.Content != "" {
			step := &run.AgentRunStep{
				RunID:      rec.ID,
				Type:       run.StepThinking,
				Content:    resp.Content,
				Tokens:     resp.Usage.Total(),
				DurationMs: time.Since(iterStart).Milliseconds(),
				CreatedAt:  time.Now().UnixMilli(),
			}
			if perr := r.appendStep(execCtx, rec, step, sink, logger); perr != nil {
				r.failOrCancel(execCtx, rec, perr, totalTokens, sink, logger)
				return
			}
		}

		st.messages = append(st.messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := r.tools.Execute(execCtx, call.Name, call.Parameters, &toolexecutor.ExecutionContext{
				ToolPolicy: st.policy,
			})

			// Tool failures are not fatal; the error text goes back to the
			// model so it can self-correct.
			output := result.Error
			if result.Success {
				output = stringify(result.Result)
			}

			step := &run.AgentRunStep{
				RunID:      rec.ID,
				Type:       run.StepToolCall,
				ToolName:   call.Name,
				ToolInput:  call.Parameters,
				ToolOutput: output,
				DurationMs: result.DurationMs,
				CreatedAt:  time.Now().UnixMilli(),
			}
			if perr := r.appendStep(execCtx, rec, step, sink, logger); perr != nil {
				r.failOrCancel(execCtx, rec, perr, totalTokens, sink, logger)
				return
			}

			st.messages = append(st.messages, provider.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	msg := fmt.Sprintf("max steps reached (%d)", st.maxSteps)
	span.SetStatus(codes.Error, msg)
	r.finalize(rec, run.StatusFailed, "", msg, totalTokens, sink, logger)
}

// appendStep persists one step, mirrors the assigned number onto the run
// record and emits the step event.
func (r *Runner) appendStep(ctx context.Context, rec *run.AgentRun, step *run.AgentRunStep, sink run.EventSink, logger zerolog.Logger) error {
	if _, err := r.store.AppendAgentStep(ctx, step); err != nil {
		logger.Error().Err(err).Str("step_type", string(step.Type)).Msg("Failed to persist step")
		return fmt.Errorf("failed to persist step: %w", err)
	}
	rec.StepsCompleted = step.StepNumber

	logger.Debug().
		Int("step", step.StepNumber).
		Str("step_type", string(step.Type)).
		Msg("Step persisted")

	ev := run.NewEvent(run.EventStep, rec.ID)
	ev.Status = run.StatusRunning
	ev.Step = step
	sink.Emit(ev)

	return nil
}

// failOrCancel distinguishes persistence failures caused by a cancelled run
// from genuine store failures.
func (r *Runner) failOrCancel(ctx context.Context, rec *run.AgentRun, err error, totalTokens int, sink run.EventSink, logger zerolog.Logger) {
	if ctx.Err() != nil {
		r.finalize(rec, run.StatusCancelled, "", "run cancelled", totalTokens, sink, logger)
		return
	}
	r.finalize(rec, run.StatusFailed, "", err.Error(), totalTokens, sink, logger)
}

// finalize writes the terminal run state and emits the terminal event. It
// uses its own context so the write succeeds even after cancellation.
func (r *Runner) finalize(rec *run.AgentRun, status run.Status, output, errMsg string, totalTokens int, sink run.EventSink, logger zerolog.Logger) {
	now := time.Now().UnixMilli()
	rec.Status = status
	rec.Output = output
	rec.Error = errMsg
	rec.TotalTokens = totalTokens
	rec.CompletedAt = &now
	rec.DurationMs = now - rec.StartedAt

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpdateAgentRun(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to persist terminal run state")
	}

	if status == run.StatusCompleted {
		ev := run.NewEvent(run.EventComplete, rec.ID)
		ev.Status = status
		ev.Output = output
		ev.DurationMs = rec.DurationMs
		sink.Emit(ev)

		logger.Info().
			Int("steps", rec.StepsCompleted).
			Int("tokens", totalTokens).
			Int64("duration_ms", rec.DurationMs).
			Msg("Agent run completed")
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
		Int("steps", rec.StepsCompleted).
		Msg("Agent run did not complete")
}

// callWithRetry calls the provider with exponential backoff retry.
func (r *Runner) callWithRetry(ctx context.Context, prov provider.ChatCompletionProvider, req provider.Request) (*provider.Response, error) {
	var lastErr error

	for attempt := 0; attempt < llmAttempts; attempt++ {
		resp, err := prov.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !provider.IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == llmAttempts-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1<<attempt) * time.Second
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after provider error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", llmAttempts, lastErr)
}

// stringify renders a tool result for the model and the step record.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
