// Package gateway broadcasts run progress events to websocket clients. It is
// the duplex channel the streamed-event contract is served over: clients
// subscribe to run ids (or everything) and receive each event exactly as the
// engines emitted it, tagged with a broker sequence number.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/selim/orkestra/pkg/run"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	// clientBuffer is the per-client outbound queue. A client that cannot
	// drain it is disconnected rather than allowed to block the broker.
	clientBuffer = 128
)

// Server is the websocket event broker. It implements run.EventSink, so it
// can be passed straight to the engines as their event destination.
type Server struct {
	addr   string
	token  string
	logger zerolog.Logger

	onClientCount func(n int)
	onEventSent   func()

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	seq      uint64

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// Config holds broker configuration.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:3002".
	Addr string

	// Token, when set, is required as the "token" query parameter on the
	// websocket handshake.
	Token string

	Logger zerolog.Logger

	// OnClientCount, when set, receives the connected-client count after
	// every connect and disconnect.
	OnClientCount func(n int)

	// OnEventSent, when set, is called once per event delivered to a client
	// queue.
	OnEventSent func()
}

// envelope is the wire shape sent to clients.
type envelope struct {
	Type  string    `json:"type"`
	Seq   uint64    `json:"seq"`
	Event run.Event `json:"event"`
}

// clientCommand is what clients send: subscription changes.
type clientCommand struct {
	Type  string `json:"type"` // "subscribe" | "unsubscribe"
	RunID string `json:"run_id,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	runs map[string]struct{} // empty set means all runs
}

// NewServer creates a broker.
func NewServer(cfg Config) *Server {
	return &Server{
		addr:          cfg.Addr,
		token:         cfg.Token,
		logger:        cfg.Logger,
		onClientCount: cfg.OnClientCount,
		onEventSent:   cfg.OnEventSent,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Emit broadcasts one run event to every subscribed client. It never blocks
// the emitting run: a full client queue drops that client.
func (s *Server) Emit(event run.Event) {
	env := envelope{
		Type:  "event",
		Seq:   atomic.AddUint64(&s.seq, 1),
		Event: event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		if !c.wants(event.RunID) {
			continue
		}
		select {
		case c.send <- data:
			if s.onEventSent != nil {
				s.onEventSent()
			}
		default:
			// Slow consumer; drop the connection, not the run.
			go c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler returns the websocket endpoint, for mounting on an existing mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// Start listens on the configured address and serves the /ws endpoint.
func (s *Server) Start() error {
	if s.addr == "" {
		return fmt.Errorf("listen address is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info().Str("addr", s.addr).Msg("Event gateway listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop shuts the broker down and disconnects all clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	if s.onClientCount != nil {
		s.onClientCount(0)
	}

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		runs: make(map[string]struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	if s.onClientCount != nil {
		s.onClientCount(n)
	}
	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Gateway client connected")

	go s.writePump(c)
	s.readPump(c)
}

// readPump consumes subscription commands until the connection dies.
func (s *Server) readPump(c *client) {
	defer s.drop(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed gateway command")
			continue
		}

		switch cmd.Type {
		case "subscribe":
			c.subscribe(cmd.RunID)
		case "unsubscribe":
			c.unsubscribe(cmd.RunID)
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	removed := false
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		removed = true
	}
	n := len(s.clients)
	s.mu.Unlock()

	if removed && s.onClientCount != nil {
		s.onClientCount(n)
	}
	c.conn.Close()
	s.logger.Debug().Msg("Gateway client disconnected")
}

// wants reports whether the client is subscribed to a run. A client with no
// explicit subscriptions receives everything.
func (c *client) wants(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.runs) == 0 {
		return true
	}
	_, ok := c.runs[runID]
	return ok
}

func (c *client) subscribe(runID string) {
	if runID == "" {
		return
	}
	c.mu.Lock()
	c.runs[runID] = struct{}{}
	c.mu.Unlock()
}

func (c *client) unsubscribe(runID string) {
	c.mu.Lock()
	delete(c.runs, runID)
	c.mu.Unlock()
}
