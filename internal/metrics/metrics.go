package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/selim/orkestra/pkg/run"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics, labeled by kind (agent or workflow)
	RunsStartedTotal   *prometheus.CounterVec
	RunsCompletedTotal *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec

	// Step and node metrics
	AgentStepsTotal     *prometheus.CounterVec
	NodeExecutionsTotal *prometheus.CounterVec
	ToolExecutionsTotal *prometheus.CounterVec
	ToolExecutionErrors *prometheus.CounterVec
	ProviderTokensTotal *prometheus.CounterVec

	// Approval metrics
	ApprovalsPending  prometheus.Gauge
	ApprovalsResolved *prometheus.CounterVec

	// Gateway metrics
	GatewayClientsConnected prometheus.Gauge
	GatewayEventsSentTotal  prometheus.Counter

	// Webhook ingress metrics
	WebhookRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runs_started_total",
				Help: "Total number of runs started",
			},
			[]string{"kind"},
		),
		RunsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runs_completed_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "run_duration_seconds",
				Help:    "Duration of runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		AgentStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_steps_total",
				Help: "Total number of agent run steps recorded",
			},
			[]string{"type"},
		),
		NodeExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_executions_total",
				Help: "Total number of workflow node executions",
			},
			[]string{"node_type", "status"},
		),
		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_execution_errors_total",
				Help: "Total number of tool execution errors",
			},
			[]string{"tool_name", "error_type"},
		),
		ProviderTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_tokens_total",
				Help: "Total number of model tokens consumed",
			},
			[]string{"provider", "direction"},
		),

		ApprovalsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "approvals_pending",
				Help: "Number of runs currently suspended waiting for approval",
			},
		),
		ApprovalsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_resolved_total",
				Help: "Total number of approval requests resolved",
			},
			[]string{"resolution"},
		),

		GatewayClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_clients_connected",
				Help: "Number of websocket clients currently connected",
			},
		),
		GatewayEventsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_events_sent_total",
				Help: "Total number of events broadcast to gateway clients",
			},
		),

		WebhookRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_requests_total",
				Help: "Total number of webhook ingress requests",
			},
			[]string{"path", "status"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RunsStartedTotal)
	m.registry.MustRegister(m.RunsCompletedTotal)
	m.registry.MustRegister(m.RunDuration)

	m.registry.MustRegister(m.AgentStepsTotal)
	m.registry.MustRegister(m.NodeExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionErrors)
	m.registry.MustRegister(m.ProviderTokensTotal)

	m.registry.MustRegister(m.ApprovalsPending)
	m.registry.MustRegister(m.ApprovalsResolved)

	m.registry.MustRegister(m.GatewayClientsConnected)
	m.registry.MustRegister(m.GatewayEventsSentTotal)

	m.registry.MustRegister(m.WebhookRequestsTotal)
}

// Sink returns a run.EventSink that keeps the run and approval metrics
// current from the engines' event streams.
func (m *Metrics) Sink(kind string) run.EventSink {
	return run.SinkFunc(func(event run.Event) {
		switch event.Type {
		case run.EventRunStart:
			m.RunsStartedTotal.WithLabelValues(kind).Inc()
		case run.EventApprovalNeeded:
			m.ApprovalsPending.Inc()
		case run.EventComplete:
			m.RunsCompletedTotal.WithLabelValues(kind, string(event.Status)).Inc()
			m.RunDuration.WithLabelValues(kind).Observe(float64(event.DurationMs) / 1000)
		case run.EventError:
			m.RunsCompletedTotal.WithLabelValues(kind, string(run.StatusFailed)).Inc()
			m.RunDuration.WithLabelValues(kind).Observe(float64(event.DurationMs) / 1000)
		case run.EventNodeComplete:
			if event.NodeResult != nil {
				m.NodeExecutionsTotal.WithLabelValues(event.NodeResult.NodeType, string(event.NodeResult.Status)).Inc()
				if event.NodeResult.NodeType == approvalNodeType {
					m.resolveApproval(event.NodeResult.Status)
				}
			}
		case run.EventStep:
			if event.Step != nil {
				m.AgentStepsTotal.WithLabelValues(string(event.Step.Type)).Inc()
			}
		}
	})
}

// approvalNodeType is the node type an approval gate's resolution is recorded
// under in node results.
const approvalNodeType = "approval"

// resolveApproval records one approval gate decision. A completed approval
// node means the request was approved; a failed one means it was denied.
func (m *Metrics) resolveApproval(status run.NodeStatus) {
	m.ApprovalsPending.Dec()
	resolution := string(run.ResolutionDenied)
	if status == run.NodeCompleted {
		resolution = string(run.ResolutionApproved)
	}
	m.ApprovalsResolved.WithLabelValues(resolution).Inc()
}

// ObserveTool records one tool execution outcome.
func (m *Metrics) ObserveTool(tool string, success bool, errorType string) {
	status := "ok"
	if !success {
		status = "error"
		m.ToolExecutionErrors.WithLabelValues(tool, errorType).Inc()
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveProviderUsage records the token consumption of one provider call.
func (m *Metrics) ObserveProviderUsage(provider string, inputTokens, outputTokens int) {
	m.ProviderTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.ProviderTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// ObserveWebhookRequest records one ingress request by path and response
// status.
func (m *Metrics) ObserveWebhookRequest(path string, status int) {
	m.WebhookRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
