package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/dotagent/internal/observability"
	"github.com/harun/dotagent/internal/tracing"
	"github.com/harun/dotagent/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxFrameSize = 64 * 1024

// SessionFactory creates the agent session bound to one connection
type SessionFactory func(clientID string) (*agent.Session, error)

// Server serves agent sessions over websocket. Each connection owns exactly
// one session, created on connect and closed on disconnect.
type Server struct {
	addr              string
	requestsPerMinute int
	newSession        SessionFactory
	server            *http.Server
	listener          net.Listener
	upgrader          websocket.Upgrader
	clients           *ClientRegistry
	auth              *AuthHandler
	logger            zerolog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	handlers       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port.
	Port         int
	SharedSecret string
	// RequestsPerMinute limits asks per connection; zero uses DefaultRequestsPerMinute.
	RequestsPerMinute int
	NewSession        SessionFactory
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.NewSession == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = DefaultRequestsPerMinute
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		requestsPerMinute: rpm,
		newSession:        cfg.NewSession,
		clients:           NewClientRegistry(),
		auth:              NewAuthHandler(cfg.SharedSecret),
		logger:            cfg.Logger.With().Str("component", "gateway").Logger(),
		baseCtx:           baseCtx,
		cancelBase:        cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"clients": s.clients.Count(),
		})
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop refuses new connections, cancels runs in progress and closes every
// client. It waits for connection handlers until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.cancelBase()

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Gateway server stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}
	return shutdownErr
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.handlers.Add(1)
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.handlers.Done()
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	clientID, err := gonanoid.New()
	if err != nil {
		s.handlers.Done()
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.requestsPerMinute),
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

// handleClient owns the connection: it binds the session, then serves frames
// one at a time until the client leaves.
func (s *Server) handleClient(client *Client) {
	defer s.handlers.Done()
	defer func() {
		s.clients.Update(client.ID, func(c *Client) { c.State = StateDisconnected })
		if client.Session != nil {
			_ = client.Session.Close()
		}
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	if s.auth.Enabled() {
		if err := s.sendChallenge(client); err != nil {
			s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth challenge")
			return
		}
	} else if !s.bindSession(client) {
		return
	}

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

func (s *Server) sendChallenge(client *Client) error {
	challenge, err := s.auth.GenerateChallenge()
	if err != nil {
		return err
	}
	s.clients.Update(client.ID, func(c *Client) {
		c.Challenge = challenge
		c.State = StateAuthenticating
	})
	return client.Conn.WriteJSON(ChallengeFrame{Type: FrameChallenge, Challenge: challenge})
}

// bindSession creates the connection's session. On failure the client gets
// an error frame and the connection is dropped.
func (s *Server) bindSession(client *Client) bool {
	session, err := s.newSession(client.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to create agent session")
		s.send(client, ErrorFrame{Type: FrameError, Error: err.Error(), Kind: classify(err)})
		return false
	}

	s.clients.Update(client.ID, func(c *Client) {
		c.Session = session
		c.State = StateReady
	})
	s.logger.Info().Str("clientId", client.ID).Str("session_id", session.ID()).Msg("Session bound")

	return s.send(client, ReadyFrame{
		Type:      FrameReady,
		SessionID: session.ID(),
		Provider:  session.Provider(),
		Model:     session.Model(),
	})
}

// handleMessage serves one frame. It returns false when the connection must close.
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return s.send(client, ErrorFrame{Type: FrameError, Error: "invalid frame: " + err.Error(), Kind: KindInvalidRequest})
	}

	if client.State == StateAuthenticating {
		return s.handleAuth(client, frame)
	}

	switch frame.Type {
	case FramePing:
		return s.send(client, PongFrame{Type: FramePong, ID: frame.ID})
	case FrameAsk:
		return s.handleAsk(client, frame)
	default:
		return s.send(client, ErrorFrame{
			Type:  FrameError,
			ID:    frame.ID,
			Error: fmt.Sprintf("unknown frame type %q", frame.Type),
			Kind:  KindInvalidRequest,
		})
	}
}

func (s *Server) handleAuth(client *Client, frame ClientFrame) bool {
	if frame.Type != FrameAuth {
		return s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: "Authentication required", Kind: KindUnauthorized})
	}

	var ok, exhausted bool
	s.clients.Update(client.ID, func(c *Client) {
		ok, exhausted = s.auth.Authenticate(c, frame.Signature)
	})
	if ok {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return s.bindSession(client)
	}

	s.logger.Warn().Str("clientId", client.ID).Int("attempts", client.AuthAttempts).Msg("Authentication failed")
	if exhausted {
		s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: "Too many failed attempts", Kind: KindUnauthorized})
		return false
	}
	return s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: "Invalid signature", Kind: KindUnauthorized})
}

func (s *Server) handleAsk(client *Client, frame ClientFrame) bool {
	if strings.TrimSpace(frame.Query) == "" {
		return s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: "query is required", Kind: KindInvalidRequest})
	}
	if !client.RateLimiter.Allow() {
		return s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: "rate limit exceeded", Kind: KindRateLimited})
	}

	ctx := tracing.NewRequestContext(withClientID(s.baseCtx, client.ID))
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("clientId", client.ID).Str("request_id", frame.ID).Logger()
	logger.Info().Msg("Gateway received ask")

	resp, err := client.Session.Run(ctx, frame.Query)
	if err != nil {
		logger.Error().Err(err).Msg("Ask failed")
		return s.send(client, ErrorFrame{Type: FrameError, ID: frame.ID, Error: err.Error(), Kind: classify(err)})
	}

	return s.send(client, AnswerFrame{
		Type:     FrameAnswer,
		ID:       frame.ID,
		Output:   resp.Output,
		Steps:    agent.Records(resp.Steps),
		Provider: resp.Provider,
		Model:    resp.Model,
		Rounds:   resp.Rounds,
		Status:   resp.Status,
	})
}

func (s *Server) send(client *Client, frame interface{}) bool {
	if err := client.Conn.WriteJSON(frame); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send frame")
		return false
	}
	return true
}

func classify(err error) ErrorKind {
	switch {
	case agent.IsConfigurationError(err):
		return KindConfiguration
	case agent.IsModelInvocationError(err):
		return KindModel
	case errors.Is(err, agent.ErrUninitialized):
		return KindUninitialized
	default:
		return KindInternal
	}
}
