package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/himanishpuri/acousticlink/pkg/logger"
)

// WebSocketConfig configures a WebSocket channel.
type WebSocketConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	ReadLimit        int64
	Logger           Logger
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MinBackoff == 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 32 << 20 // 32MB, a 20s WAV is ~2MB base64
	}
	if c.Logger == nil {
		c.Logger = logger.GetLogger().Named("channel")
	}
}

// WebSocket is a Channel over a JSON-enveloped websocket connection.
// It redials with exponential backoff until closed.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	subs   *registry
	log    Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to cfg.URL. The first connection must succeed; later drops
// are retried in the background.
func Dial(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, errors.New("websocket URL is required")
	}

	ws := &WebSocket{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		subs:   newRegistry(),
		log:    cfg.Logger,
	}

	conn, err := ws.dial(ctx)
	if err != nil {
		return nil, err
	}
	ws.conn = conn
	ws.ctx, ws.cancel = context.WithCancel(context.Background())

	ws.wg.Add(1)
	go ws.run(conn)
	return ws, nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := ws.dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", ws.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", ws.cfg.URL, err)
	}
	conn.SetReadLimit(ws.cfg.ReadLimit)
	ws.log.Infof("connected to %s", ws.cfg.URL)
	return conn, nil
}

func (ws *WebSocket) run(conn *websocket.Conn) {
	defer ws.wg.Done()

	for {
		ws.readLoop(conn)

		ws.mu.Lock()
		if ws.conn == conn {
			ws.conn = nil
		}
		closed := ws.closed
		ws.mu.Unlock()
		conn.Close()
		if closed {
			return
		}

		next, ok := ws.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// readLoop delivers messages in arrival order until the connection fails.
func (ws *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.log.Infof("connection closed by peer")
			} else if ws.ctx.Err() == nil {
				ws.log.Warnf("read failed: %v", err)
			}
			return
		}
		if msg.Event == "" {
			ws.log.Warnf("dropping message without event name")
			continue
		}

		h, ok := ws.subs.lookup(msg.Event)
		if !ok {
			ws.log.Debugf("no subscriber for %s, dropping", msg.Event)
			continue
		}
		h(msg)
	}
}

func (ws *WebSocket) reconnect() (*websocket.Conn, bool) {
	backoff := ws.cfg.MinBackoff
	for {
		select {
		case <-ws.ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := ws.dial(ws.ctx)
		if err == nil {
			ws.mu.Lock()
			if ws.closed {
				ws.mu.Unlock()
				conn.Close()
				return nil, false
			}
			ws.conn = conn
			ws.mu.Unlock()
			return conn, true
		}

		ws.log.Warnf("reconnect failed, retrying in %s: %v", backoff, err)
		backoff *= 2
		if backoff > ws.cfg.MaxBackoff {
			backoff = ws.cfg.MaxBackoff
		}
	}
}

func (ws *WebSocket) Send(ctx context.Context, msg Message) error {
	ws.mu.Lock()
	conn, closed := ws.conn, ws.closed
	ws.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrDisconnected
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	deadline := time.Now().Add(ws.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Event, err)
	}
	return nil
}

func (ws *WebSocket) Subscribe(event string, h Handler) { ws.subs.set(event, h) }

func (ws *WebSocket) Unsubscribe(event string) { ws.subs.remove(event) }

// Close stops reconnecting, closes the connection and waits for the reader to exit.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	conn := ws.conn
	ws.mu.Unlock()

	ws.cancel()
	if conn != nil {
		ws.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		conn.Close()
	}
	ws.wg.Wait()
	return nil
}
