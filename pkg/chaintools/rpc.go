package chaintools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultHandshakeTimeout = 10 * time.Second

// RPCError is an error object returned by a Substrate node
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCClient is a JSON-RPC 2.0 client for a Substrate node over websocket.
// The connection is dialed on first use and redialed after a transport
// failure. Calls are serialized.
type RPCClient struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewRPCClient creates a client for a ws:// or wss:// endpoint
func NewRPCClient(url string, logger zerolog.Logger) *RPCClient {
	return &RPCClient{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		logger: logger.With().Str("rpc_url", url).Logger(),
	}
}

// URL returns the endpoint the client talks to
func (c *RPCClient) URL() string {
	return c.url
}

// Call invokes method and decodes its result into result, which may be nil.
// Cancelling ctx aborts the call.
func (c *RPCClient) Call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.nextID++
	id := c.nextID
	if params == nil {
		params = []interface{}{}
	}

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.drop()
		return c.transportError(ctx, method, err)
	}

	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			c.drop()
			return c.transportError(ctx, method, err)
		}
		// subscription notifications and stale replies carry no matching id
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	}
}

// Close closes the underlying connection, if any
func (c *RPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *RPCClient) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	c.logger.Debug().Msg("Dialing node")
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *RPCClient) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *RPCClient) transportError(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", method, ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%s: %w", method, context.DeadlineExceeded)
	}
	c.logger.Warn().Err(err).Str("method", method).Msg("RPC transport failure")
	return fmt.Errorf("%s: %w", method, err)
}

// RPCPool holds one lazily created client per chain
type RPCPool struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*RPCClient
}

// NewRPCPool creates an empty pool
func NewRPCPool(logger zerolog.Logger) *RPCPool {
	return &RPCPool{logger: logger, clients: make(map[string]*RPCClient)}
}

// Client returns the client for chain, creating it on first use
func (p *RPCPool) Client(chain Chain) (*RPCClient, error) {
	if chain.RPCURL == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for chain '%s'", chain.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[chain.ID]; ok {
		return client, nil
	}
	client := NewRPCClient(chain.RPCURL, p.logger.With().Str("chain", chain.ID).Logger())
	p.clients[chain.ID] = client
	return client, nil
}

// Close closes every client in the pool
func (p *RPCPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, client := range p.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		delete(p.clients, id)
	}
	return errors.Join(errs...)
}
