package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/selim/orkestra/internal/config"
	"github.com/selim/orkestra/internal/logger"
	"github.com/selim/orkestra/internal/metrics"
	"github.com/selim/orkestra/internal/telegram"
	"github.com/selim/orkestra/internal/tracing"
	"github.com/selim/orkestra/pkg/agent"
	"github.com/selim/orkestra/pkg/gateway"
	"github.com/selim/orkestra/pkg/provider"
	"github.com/selim/orkestra/pkg/registry"
	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/schedule"
	"github.com/selim/orkestra/pkg/store"
	"github.com/selim/orkestra/pkg/toolexecutor"
	"github.com/selim/orkestra/pkg/webhook"
	"github.com/selim/orkestra/pkg/workflow"
)

// Daemon wires the orchestration core to its services: definition registry,
// scheduler, webhook ingress, event gateway, approval channel, and metrics.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store     *store.SQLite
	tools     *toolexecutor.ToolExecutor
	providers *provider.Factory
	agents    *agent.Runner
	engine    *workflow.Engine
	registry  *registry.Registry
	metrics   *metrics.Metrics

	// Services
	watcher    *registry.Watcher
	scheduler  *schedule.Scheduler
	webhookSrv *webhook.Server
	gatewaySrv *gateway.Server
	notifier   *telegram.Notifier
	metricsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// approvalRelay defers the approval channel target so the engine and the
// Telegram notifier can reference each other.
type approvalRelay struct {
	mu     sync.RWMutex
	target run.ApprovalChannel
}

func (r *approvalRelay) set(ch run.ApprovalChannel) {
	r.mu.Lock()
	r.target = ch
	r.mu.Unlock()
}

func (r *approvalRelay) Notify(ctx context.Context, req *run.ApprovalRequest) error {
	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()
	if target == nil {
		return nil
	}
	return target.Notify(ctx, req)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:    cfg,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("orkestra"); err != nil {
			zl := log.GetZerolog()
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.New(store.Config{Path: d.config.Database, Logger: zl})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = db

	d.metrics = metrics.NewMetrics()

	d.tools = toolexecutor.New(toolexecutor.Config{
		Logger: zl,
		Observe: func(tool string, result toolexecutor.ToolResult) {
			d.metrics.ObserveTool(tool, result.Success, result.ErrorType)
		},
	})
	if err := toolexecutor.RegisterBuiltins(d.tools, toolexecutor.BuiltinOptions{}); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	d.providers = provider.NewFactory(provider.Credentials{
		OpenAIAPIKey:    d.config.Providers.OpenAIAPIKey,
		AnthropicAPIKey: d.config.Providers.AnthropicAPIKey,
	})

	if d.config.Gateway.Enabled {
		d.gatewaySrv = gateway.NewServer(gateway.Config{
			Addr:   fmt.Sprintf("%s:%d", d.config.Gateway.Host, d.config.Gateway.Port),
			Token:  d.config.Gateway.Token,
			Logger: zl,
			OnClientCount: func(n int) {
				d.metrics.GatewayClientsConnected.Set(float64(n))
			},
			OnEventSent: d.metrics.GatewayEventsSentTotal.Inc,
		})
	}

	agentEvents := run.CombineSinks(d.metrics.Sink("agent"), d.gatewaySink())
	d.agents, err = agent.NewRunner(agent.Config{
		Store:     d.store,
		Tools:     d.tools,
		Providers: d.providers,
		Events:    agentEvents,
		Usage:     d.metrics.ObserveProviderUsage,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	d.registry = registry.New(d.config.Definitions.Dir, zl)
	if err := os.MkdirAll(d.config.Definitions.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}
	if err := d.registry.Load(); err != nil {
		zl.Warn().Err(err).Msg("Initial definition load failed, starting with an empty set")
	}

	relay := &approvalRelay{}
	workflowEvents := run.CombineSinks(d.metrics.Sink("workflow"), d.gatewaySink())
	d.engine, err = workflow.NewEngine(workflow.Config{
		Store:     d.store,
		Agents:    d.agents,
		Catalog:   d.registry,
		Tools:     d.tools,
		Approvals: relay,
		Events:    workflowEvents,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow engine: %w", err)
	}

	if d.config.Telegram.Enabled {
		d.notifier, err = telegram.NewNotifier(telegram.Config{
			Token:   d.config.Telegram.BotToken,
			ChatIDs: d.config.Telegram.ChatIDs,
			Logger:  zl,
		}, d.engine)
		if err != nil {
			return fmt.Errorf("failed to create telegram notifier: %w", err)
		}
		relay.set(d.notifier)
	}

	if d.config.Definitions.Watch {
		d.watcher, err = registry.NewWatcher(d.registry, registry.WatcherConfig{
			Debounce: time.Duration(d.config.Definitions.DebounceMs) * time.Millisecond,
		})
		if err != nil {
			return fmt.Errorf("failed to create definition watcher: %w", err)
		}
	}

	if d.config.Schedule.Enabled {
		d.scheduler, err = schedule.New(schedule.Config{
			Store:     d.store,
			Workflows: d.registry,
			Engine:    d.engine,
			Tick:      time.Duration(d.config.Schedule.TickMs) * time.Millisecond,
			Logger:    zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	if d.config.Webhook.Enabled {
		routes := make([]webhook.Route, 0, len(d.config.Webhook.Routes))
		for _, r := range d.config.Webhook.Routes {
			routes = append(routes, webhook.Route{
				Method:     r.Method,
				Path:       r.Path,
				WorkflowID: r.WorkflowID,
				Token:      r.Token,
				Secret:     r.Secret,
			})
		}
		d.webhookSrv, err = webhook.NewServer(webhook.Config{
			Host:               d.config.Webhook.Host,
			Port:               d.config.Webhook.Port,
			RateLimitPerMinute: d.config.Webhook.RateLimitPerMinute,
			Routes:             routes,
			Workflows:          d.registry,
			Starter:            d.engine,
			Logger:             zl,
			Observe:            d.metrics.ObserveWebhookRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create webhook ingress: %w", err)
		}
	}

	return nil
}

// gatewaySink returns the gateway as an event sink, or nil when disabled.
// CombineSinks skips nils.
func (d *Daemon) gatewaySink() run.EventSink {
	if d.gatewaySrv == nil {
		return nil
	}
	return d.gatewaySrv
}

// Start brings all configured services up.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.GetZerolog()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start definition watcher: %w", err)
		}
	}

	if d.scheduler != nil {
		d.scheduler.Start()
	}

	if d.notifier != nil {
		d.notifier.Start()
	}

	if d.gatewaySrv != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.gatewaySrv.Start(); err != nil {
				zl.Error().Err(err).Msg("Gateway server stopped with error")
			}
		}()
	}

	if d.webhookSrv != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.webhookSrv.Start(); err != nil {
				zl.Error().Err(err).Msg("Webhook ingress stopped with error")
			}
		}()
	}

	if d.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		d.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", d.config.Metrics.Host, d.config.Metrics.Port),
			Handler: mux,
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error().Err(err).Msg("Metrics server stopped with error")
			}
		}()
	}

	zl.Info().
		Int("agents", len(d.registry.ListAgents())).
		Int("workflows", len(d.registry.ListWorkflows())).
		Bool("gateway", d.gatewaySrv != nil).
		Bool("webhook", d.webhookSrv != nil).
		Bool("telegram", d.notifier != nil).
		Bool("schedule", d.scheduler != nil).
		Msg("Daemon started")

	return nil
}

// Stop shuts all services down in reverse dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping daemon")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if d.webhookSrv != nil {
		if err := d.webhookSrv.Stop(shutdownCtx); err != nil {
			zl.Warn().Err(err).Msg("Webhook ingress shutdown failed")
		}
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(shutdownCtx); err != nil {
			zl.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if d.gatewaySrv != nil {
		if err := d.gatewaySrv.Stop(shutdownCtx); err != nil {
			zl.Warn().Err(err).Msg("Gateway shutdown failed")
		}
	}
	if d.notifier != nil {
		d.notifier.Stop()
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			zl.Warn().Err(err).Msg("Definition watcher shutdown failed")
		}
	}

	d.cancel()
	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		zl.Warn().Err(err).Msg("Store close failed")
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			zl.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}

	zl.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", s.String()).Msg("Shutdown signal received")
	_ = d.Stop()
}

// Status reports the daemon's current state.
type Status struct {
	Running bool          `json:"running"`
	Uptime  time.Duration `json:"uptime"`
	Agents  int           `json:"agents"`
	Flows   int           `json:"workflows"`
}

func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{Running: d.running}
	if d.running {
		st.Uptime = time.Since(d.startTime)
	}
	if d.registry != nil {
		st.Agents = len(d.registry.ListAgents())
		st.Flows = len(d.registry.ListWorkflows())
	}
	return st
}

// Engine exposes the workflow engine for CLI subcommands.
func (d *Daemon) Engine() *workflow.Engine {
	return d.engine
}

// Agents exposes the agent runner for CLI subcommands.
func (d *Daemon) Agents() *agent.Runner {
	return d.agents
}

// Registry exposes the definition registry.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// Store exposes the persistence layer.
func (d *Daemon) Store() run.Store {
	return d.store
}

// Scheduler exposes the job scheduler, nil when disabled.
func (d *Daemon) Scheduler() *schedule.Scheduler {
	return d.scheduler
}
