package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/workflow"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// WorkflowSource resolves workflow definitions for incoming routes.
type WorkflowSource interface {
	GetWorkflow(id string) (*workflow.Workflow, error)
}

// Starter launches workflow runs. Satisfied by workflow.Engine.
type Starter interface {
	RunStreaming(ctx context.Context, w *workflow.Workflow, input interface{}, runContext map[string]interface{}) (string, <-chan run.Event, error)
}

// Config configures the ingress server.
type Config struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	Routes             []Route
	Workflows          WorkflowSource
	Starter            Starter
	Logger             zerolog.Logger

	// Observe, when set, receives the path and response status of every
	// ingress request.
	Observe func(path string, status int)
}

// Server maps configured method+path routes to workflow starts. Accepted
// requests are answered immediately with 202 and the run id; the run itself
// proceeds in the background.
type Server struct {
	cfg       Config
	routes    map[string]Route
	limiter   *rateLimiter
	workflows WorkflowSource
	starter   Starter
	observe   func(path string, status int)
	logger    zerolog.Logger
	httpSrv   *http.Server
	startTime time.Time
}

// NewServer validates the routes and builds the ingress server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Workflows == nil {
		return nil, fmt.Errorf("workflow source is required")
	}
	if cfg.Starter == nil {
		return nil, fmt.Errorf("starter is required")
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3001
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 100
	}

	routes := make(map[string]Route, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("route path %q must start with /", r.Path)
		}
		if r.WorkflowID == "" {
			return nil, fmt.Errorf("route %s has no workflow_id", r.Path)
		}
		if r.Method == "" {
			r.Method = http.MethodPost
		}
		r.Method = strings.ToUpper(r.Method)
		key := r.Method + " " + r.Path
		if _, dup := routes[key]; dup {
			return nil, fmt.Errorf("duplicate route %s", key)
		}
		routes[key] = r
	}

	return &Server{
		cfg:       cfg,
		routes:    routes,
		limiter:   newRateLimiter(cfg.RateLimitPerMinute),
		workflows: cfg.Workflows,
		starter:   cfg.Starter,
		observe:   cfg.Observe,
		logger:    cfg.Logger.With().Str("component", "webhook").Logger(),
		startTime: time.Now(),
	}, nil
}

// Handler returns the HTTP handler, exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.observed(s.handleIngress))
	return mux
}

// observed reports each ingress request's terminal status to the observe
// hook.
func (s *Server) observed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.observe == nil {
			next(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.observe(r.URL.Path, rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start listens until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.httpSrv.Addr).Int("routes", len(s.routes)).Msg("Starting webhook ingress")

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook ingress: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	route, ok := s.routes[r.Method+" "+r.URL.Path]
	if !ok {
		// Distinguish a wrong method on a known path from an unknown path.
		for key := range s.routes {
			if strings.HasSuffix(key, " "+r.URL.Path) {
				writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such route"})
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.retryAfter(ip)))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large"})
		return
	}

	if route.Token != "" && bearerToken(r) != route.Token && r.Header.Get("X-Webhook-Token") != route.Token {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return
	}
	if route.Secret != "" && !verifySignature(body, r.Header.Get("X-Webhook-Signature"), route.Secret) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var input interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be valid JSON"})
			return
		}
	}

	wf, err := s.workflows.GetWorkflow(route.WorkflowID)
	if err != nil {
		s.logger.Error().Err(err).Str("workflow_id", route.WorkflowID).Msg("Route points to unknown workflow")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "workflow not available"})
		return
	}

	runContext := map[string]interface{}{
		"trigger":   "webhook",
		"path":      route.Path,
		"method":    route.Method,
		"remote_ip": ip,
	}
	runID, events, err := s.starter.RunStreaming(context.Background(), wf, input, runContext)
	if err != nil {
		s.logger.Error().Err(err).Str("workflow_id", route.WorkflowID).Msg("Failed to start workflow run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to start run"})
		return
	}

	// The run outlives the request; drain its event stream so it never blocks.
	go func() {
		for range events {
		}
	}()

	s.logger.Info().
		Str("run_id", runID).
		Str("workflow_id", route.WorkflowID).
		Str("path", route.Path).
		Msg("Webhook accepted")

	writeJSON(w, http.StatusAccepted, StartResponse{RunID: runID, Status: string(run.StatusRunning)})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
