package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 4 << 20
	maxReconnectDelay = 30 * time.Second
)

// Hub is the WebSocket fan-out server run by the supervising process. Every
// envelope read from one connection is rebroadcast to all other connections;
// the hub's own process receives it through the local handler.
type Hub struct {
	logger *slog.Logger

	// Local is invoked for every envelope passing through the hub, so the
	// hub process participates without a self-connection. OnConnect is
	// invoked when a shard connection is accepted. Both may be nil.
	Local     func(ctx context.Context, env Envelope)
	OnConnect func(shardID int)

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates a hub with no connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and pumps envelopes until the shard
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(wsReadLimit)

	shard := r.URL.Query().Get("shard")
	h.logger.Info("shard connected", slog.String("shard", shard))

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	if h.OnConnect != nil {
		if shardID, err := strconv.Atoi(shard); err == nil {
			h.OnConnect(shardID)
		}
	}
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.CloseNow()
		h.logger.Info("shard disconnected", slog.String("shard", shard))
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("dropping malformed frame", slog.Any("error", err))
			continue
		}
		if h.Local != nil {
			h.Local(ctx, env)
		}
		h.broadcast(ctx, data, conn)
	}
}

// Send broadcasts an envelope originated by the hub process itself.
func (h *Hub) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.broadcast(ctx, data, nil)
	return nil
}

func (h *Hub) broadcast(ctx context.Context, data []byte, except *websocket.Conn) {
	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		if conn != except {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Warn("broadcast write failed, dropping connection",
				slog.Any("error", err))
			conn.CloseNow()
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
		}
	}
}

// Client is the outbound WebSocket transport a worker shard uses to reach the
// hub. Run reconnects with exponential backoff until the context is
// cancelled.
type Client struct {
	url     string
	shardID int
	handler func(ctx context.Context, env Envelope)
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for the hub at url. handler receives every
// envelope relayed by the hub.
func NewClient(url string, shardID int, handler func(ctx context.Context, env Envelope), logger *slog.Logger) *Client {
	return &Client{
		url:     fmt.Sprintf("%s?shard=%d", url, shardID),
		shardID: shardID,
		handler: handler,
		logger:  logger,
	}
}

// Run connects to the hub and processes envelopes until ctx is cancelled,
// reconnecting on disconnect with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	delay := time.Second
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = time.Second
		}
		c.logger.Warn("hub disconnected",
			slog.Any("error", err),
			slog.Duration("reconnect_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()

	c.logger.Info("connected to coordinator hub", slog.Int("shard_id", c.shardID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", slog.Any("error", err))
			continue
		}
		c.handler(ctx, env)
	}
}

// Send writes one envelope to the hub. Fails when not connected; the caller
// queues and re-sends later.
func (c *Client) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to hub")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
