// Package web serves the optional HTTP monitor: JSON status, a websocket
// feed of the published status, command submission and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/app"
	"github.com/guidoenr/gomixer/internal/mixer"
	"github.com/guidoenr/gomixer/internal/observability"
)

// Source labels commands submitted over HTTP.
const Source = "web"

const (
	statusInterval = 100 * time.Millisecond
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Controller is the part of the control loop the monitor talks to.
type Controller interface {
	Status() app.Status
	Submit(source string, cmd mixer.Command) bool
}

type Server struct {
	mu        sync.RWMutex
	ctrl      Controller
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
	registry  *prometheus.Registry
	mux       *http.ServeMux
	log       zerolog.Logger
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// CommandRequest is the body of POST /api/command. Value is the target dB
// for set-gain and the delta for step-gain.
type CommandRequest struct {
	Channel int     `json:"channel"`
	Action  string  `json:"action"`
	Value   float64 `json:"value"`
}

// NewServer builds the monitor. stats feeds the engine collectors and xruns
// the host counter on scrape; either may be nil. /metrics also serves the
// default registry with the control loop metrics.
func NewServer(ctrl Controller, stats func() mixer.Stats, xruns func() uint64, logger zerolog.Logger) (*Server, error) {
	reg, err := observability.NewRegistry(stats, xruns)
	if err != nil {
		return nil, fmt.Errorf("register engine metrics: %w", err)
	}
	s := &Server{
		ctrl:      ctrl,
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		registry: reg,
		mux:      http.NewServeMux(),
		log:      logger.With().Str("component", "web").Logger(),
	}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{reg, prometheus.DefaultGatherer}, promhttp.HandlerOpts{}))
	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("monitor listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web monitor: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.closeClients()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web monitor shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"endpoints": {"/api/status", "/api/command", "/ws", "/metrics"},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := req.Command()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.ctrl.Submit(Source, cmd) {
		http.Error(w, "command rejected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "command": cmd.String()})
}

// Command converts the request into an engine command.
func (req CommandRequest) Command() (mixer.Command, error) {
	if req.Channel < 0 {
		return mixer.Command{}, fmt.Errorf("invalid channel %d", req.Channel)
	}
	id := mixer.ChannelID(req.Channel)
	switch req.Action {
	case "set-gain", "step-gain":
		if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
			return mixer.Command{}, fmt.Errorf("invalid value for %s", req.Action)
		}
		if req.Action == "set-gain" {
			return mixer.SetGain(id, float32(req.Value)), nil
		}
		return mixer.StepGain(id, float32(req.Value)), nil
	case "mute", "toggle-mute":
		return mixer.ToggleMute(id), nil
	case "solo", "toggle-solo":
		return mixer.ToggleSolo(id), nil
	case "reset", "reset-gain":
		return mixer.ResetGain(id), nil
	default:
		return mixer.Command{}, fmt.Errorf("unknown action %q", req.Action)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 16),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// slow reader
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.RLock()
		idle := len(s.clients) == 0
		s.mu.RUnlock()
		if idle {
			continue
		}
		data, err := json.Marshal(s.ctrl.Status())
		if err != nil {
			s.log.Warn().Err(err).Msg("encode status")
			continue
		}
		select {
		case s.broadcast <- data:
		default:
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		close(client.send)
		delete(s.clients, client)
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.mu.Lock()
		if c.server.clients[c] {
			delete(c.server.clients, c)
			close(c.send)
		}
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
