package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/dotagent/pkg/agent"
	"github.com/harun/dotagent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type generateFunc func(msgs []agent.Message) (agent.AssistantMessage, error)

type stubInvoker struct {
	generate generateFunc
}

func (s *stubInvoker) Generate(ctx context.Context, msgs []agent.Message, defs []tools.Definition) (agent.AssistantMessage, error) {
	return s.generate(msgs)
}

func (s *stubInvoker) Provider() agent.Provider { return agent.ProviderOllama }
func (s *stubInvoker) Model() string            { return "stub-model" }

type stubFactory struct {
	invoker agent.ModelInvoker
}

func (f *stubFactory) NewInvoker(cfg agent.InvokerConfig) (agent.ModelInvoker, error) {
	return f.invoker, nil
}

// echoModel answers every query with "echo: <query>"
func echoModel(msgs []agent.Message) (agent.AssistantMessage, error) {
	return agent.AssistantMessage{Content: "echo: " + msgs[len(msgs)-1].Text()}, nil
}

type sessionTracker struct {
	mu       sync.Mutex
	sessions []*agent.Session
}

func (s *sessionTracker) add(session *agent.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
}

func (s *sessionTracker) all() []*agent.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.Session(nil), s.sessions...)
}

type testServer struct {
	server   *Server
	http     *httptest.Server
	sessions *sessionTracker
}

func newTestServer(t *testing.T, generate generateFunc, mutate func(*Config)) *testServer {
	t.Helper()

	reg := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_nomination_info",
		Description: "Pool membership",
		Parameters: []tools.Parameter{
			{Name: "account", Type: "string", Description: "Account", Required: true},
			{Name: "chain", Type: "string", Description: "Chain", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"poolId": 3}, nil
		},
	})))

	tracker := &sessionTracker{}
	cfg := Config{
		Logger: zerolog.Nop(),
		NewSession: func(clientID string) (*agent.Session, error) {
			session, err := agent.NewSession(
				agent.Config{Provider: agent.ProviderOllama, Model: "stub-model"},
				reg,
				agent.WithInvokerFactory(&stubFactory{invoker: &stubInvoker{generate: generate}}),
			)
			if err != nil {
				return nil, err
			}
			tracker.add(session)
			return session, nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		ts.Close()
	})

	return &testServer{server: srv, http: ts, sessions: tracker}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func ask(t *testing.T, conn *websocket.Conn, id, query string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAsk, ID: id, Query: query}))
	return readFrame(t, conn)
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{Port: 8080})
	assert.Error(t, err, "session factory is required")

	_, err = NewServer(Config{Port: -1, NewSession: func(string) (*agent.Session, error) { return nil, nil }})
	assert.Error(t, err)
}

func TestServer_ReadyOnConnect(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	conn := ts.dial(t)

	frame := readFrame(t, conn)
	assert.Equal(t, FrameReady, frame["type"])
	assert.Equal(t, "ollama", frame["provider"])
	assert.Equal(t, "stub-model", frame["model"])

	sessions := ts.sessions.all()
	require.Len(t, sessions, 1)
	assert.Equal(t, sessions[0].ID(), frame["session_id"])
}

func TestServer_AskWithToolRound(t *testing.T) {
	generate := func(msgs []agent.Message) (agent.AssistantMessage, error) {
		if _, ok := msgs[len(msgs)-1].(agent.HumanMessage); ok {
			return agent.AssistantMessage{ToolCalls: []agent.ToolCall{{
				ID:        "call_1",
				Name:      "get_nomination_info",
				Arguments: map[string]interface{}{"account": "5F", "chain": "west_asset_hub"},
			}}}, nil
		}
		return agent.AssistantMessage{Content: "You are in pool 3."}, nil
	}
	ts := newTestServer(t, generate, nil)
	conn := ts.dial(t)
	readFrame(t, conn)

	frame := ask(t, conn, "q1", "what is my pool?")
	require.Equal(t, FrameAnswer, frame["type"], frame)
	assert.Equal(t, "q1", frame["id"])
	assert.Equal(t, "You are in pool 3.", frame["output"])
	assert.EqualValues(t, 2, frame["rounds"])
	assert.Equal(t, "success", frame["status"])

	steps := frame["steps"].([]interface{})
	require.Len(t, steps, 3)
	toolStep := steps[1].(map[string]interface{})
	assert.Equal(t, "tool", toolStep["role"])
	assert.Equal(t, "call_1", toolStep["tool_call_id"])
	assert.JSONEq(t, `{"poolId":3}`, toolStep["content"].(string))
}

func TestServer_AsksAreServedInOrder(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	conn := ts.dial(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAsk, ID: "1", Query: "first"}))
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAsk, ID: "2", Query: "second"}))

	first := readFrame(t, conn)
	second := readFrame(t, conn)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "echo: first", first["output"])
	assert.Equal(t, "2", second["id"])
	assert.Equal(t, "echo: second", second["output"])
}

func TestServer_InvalidFrames(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	conn := ts.dial(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, string(KindInvalidRequest), frame["kind"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "subscribe", ID: "x"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "x", frame["id"])
	assert.Contains(t, frame["error"], "unknown frame type")

	frame = ask(t, conn, "empty", "   ")
	assert.Equal(t, string(KindInvalidRequest), frame["kind"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FramePing, ID: "p"}))
	frame = readFrame(t, conn)
	assert.Equal(t, FramePong, frame["type"])
	assert.Equal(t, "p", frame["id"])
}

func TestServer_ModelFailure(t *testing.T) {
	ts := newTestServer(t, func(msgs []agent.Message) (agent.AssistantMessage, error) {
		return agent.AssistantMessage{}, errors.New("upstream unavailable")
	}, nil)
	conn := ts.dial(t)
	readFrame(t, conn)

	frame := ask(t, conn, "q", "hello")
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, "q", frame["id"])
	assert.Equal(t, string(KindModel), frame["kind"])
	assert.Contains(t, frame["error"], "upstream unavailable")

	// the session survives a model failure
	frame = ask(t, conn, "q2", "hello")
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, "q2", frame["id"])
}

func TestServer_ConfigurationErrorClosesConnection(t *testing.T) {
	ts := newTestServer(t, echoModel, func(cfg *Config) {
		cfg.NewSession = func(string) (*agent.Session, error) {
			return agent.NewSession(agent.Config{Provider: agent.ProviderOpenAI, Model: "gpt-4o-mini"}, tools.NewRegistry(zerolog.Nop()))
		}
	})
	conn := ts.dial(t)

	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, string(KindConfiguration), frame["kind"])
	assert.Contains(t, frame["error"], "API key is required")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_SessionClosedOnDisconnect(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	conn := ts.dial(t)
	readFrame(t, conn)

	sessions := ts.sessions.all()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsReady())
	assert.Len(t, ts.server.GetConnectedClients(), 1)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return !sessions[0].IsReady() && len(ts.server.GetConnectedClients()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_EachConnectionOwnsASession(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	a := readFrame(t, ts.dial(t))
	b := readFrame(t, ts.dial(t))
	assert.NotEqual(t, a["session_id"], b["session_id"])
	assert.Len(t, ts.sessions.all(), 2)
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, echoModel, func(cfg *Config) { cfg.SharedSecret = "s3cret" })
	conn := ts.dial(t)

	challenge := readFrame(t, conn)
	require.Equal(t, FrameChallenge, challenge["type"])
	assert.Empty(t, ts.sessions.all(), "no session before authentication")

	frame := ask(t, conn, "early", "hello")
	assert.Equal(t, string(KindUnauthorized), frame["kind"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Signature: "bogus"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "Invalid signature", frame["error"])

	require.NoError(t, conn.WriteJSON(ClientFrame{
		Type:      FrameAuth,
		Signature: computeHMAC(challenge["challenge"].(string), "s3cret"),
	}))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameReady, frame["type"])

	frame = ask(t, conn, "q", "hi")
	assert.Equal(t, "echo: hi", frame["output"])
}

func TestServer_ClientListWhileConnecting(t *testing.T) {
	ts := newTestServer(t, echoModel, func(cfg *Config) { cfg.SharedSecret = "s3cret" })

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
				for _, info := range ts.server.GetConnectedClients() {
					_ = info.SessionID
					_ = info.Authenticated
				}
			}
		}
	}()

	const clients = 20
	for i := 0; i < clients; i++ {
		conn := ts.dial(t)
		challenge := readFrame(t, conn)
		require.NoError(t, conn.WriteJSON(ClientFrame{
			Type:      FrameAuth,
			Signature: computeHMAC(challenge["challenge"].(string), "s3cret"),
		}))
		require.Equal(t, FrameReady, readFrame(t, conn)["type"])
	}
	close(stop)
	<-polled

	infos := ts.server.GetConnectedClients()
	require.Len(t, infos, clients)
	for _, info := range infos {
		assert.True(t, info.Authenticated)
		assert.NotEmpty(t, info.SessionID)
	}
}

func TestServer_AuthenticationLockout(t *testing.T) {
	ts := newTestServer(t, echoModel, func(cfg *Config) { cfg.SharedSecret = "s3cret" })
	conn := ts.dial(t)
	readFrame(t, conn)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Signature: "bad"}))
		assert.Equal(t, "Invalid signature", readFrame(t, conn)["error"])
	}
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Signature: "bad"}))
	assert.Equal(t, "Too many failed attempts", readFrame(t, conn)["error"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, echoModel, func(cfg *Config) { cfg.RequestsPerMinute = 1 })
	conn := ts.dial(t)
	readFrame(t, conn)

	assert.Equal(t, FrameAnswer, ask(t, conn, "1", "a")["type"])
	frame := ask(t, conn, "2", "b")
	assert.Equal(t, string(KindRateLimited), frame["kind"])
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)

	resp, err := ts.http.Client().Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, echoModel, nil)
	conn := ts.dial(t)
	readFrame(t, conn)
	ask(t, conn, "1", "hello")

	resp, err := ts.http.Client().Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, err := NewServer(Config{
		Host:   "127.0.0.1",
		Port:   0,
		Logger: zerolog.Nop(),
		NewSession: func(string) (*agent.Session, error) {
			return agent.NewSession(
				agent.Config{Provider: agent.ProviderOllama, Model: "stub-model"},
				tools.NewRegistry(zerolog.Nop()),
				agent.WithInvokerFactory(&stubFactory{invoker: &stubInvoker{generate: echoModel}}),
			)
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, FrameReady, readFrame(t, conn)["type"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	_, _, err = websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	assert.Error(t, err)
}
