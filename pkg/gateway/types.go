package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/dotagent/pkg/agent"
)

// Frame types
const (
	FrameAsk       = "ask"
	FramePing      = "ping"
	FrameAuth      = "auth"
	FrameChallenge = "challenge"
	FrameReady     = "ready"
	FrameAnswer    = "answer"
	FrameError     = "error"
	FramePong      = "pong"
)

// ErrorKind classifies error frames
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindModel          ErrorKind = "model"
	KindUninitialized  ErrorKind = "uninitialized"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindInternal       ErrorKind = "internal"
)

// ClientFrame is any message a client sends
type ClientFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Query     string `json:"query,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ChallengeFrame asks the client to sign Challenge with the shared secret
type ChallengeFrame struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// ReadyFrame announces the session bound to the connection
type ReadyFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Provider  agent.Provider `json:"provider"`
	Model     string         `json:"model"`
}

// AnswerFrame carries the result of one ask
type AnswerFrame struct {
	Type     string                `json:"type"`
	ID       string                `json:"id"`
	Output   string                `json:"output"`
	Steps    []agent.MessageRecord `json:"steps"`
	Provider agent.Provider        `json:"provider"`
	Model    string                `json:"model"`
	Rounds   int                   `json:"rounds"`
	Status   agent.RunStatus       `json:"status"`
}

// ErrorFrame reports a failed request or connection setup
type ErrorFrame struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind"`
}

// PongFrame answers a ping
type PongFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId,omitempty"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateReady
	StateDisconnected
)

// Client represents a connected WebSocket client. Only its read loop writes
// to Conn.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Session       *agent.Session
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	AuthAttempts  int
	RateLimiter   *ClientRateLimiter
	State         ClientState
}
