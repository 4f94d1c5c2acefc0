// Package ws implements Link-B: telemetry as JSON text messages over a
// WebSocket connection.
package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry/codec"
	"github.com/autopeer-io/voltlink/pkg/log"
)

var _ core.Transport = (*Transport)(nil)

// Config tunes the WebSocket link.
type Config struct {
	HandshakeTimeout time.Duration
	// ReadLimit caps the size of a single inbound message.
	ReadLimit int64
	// WriteTimeout bounds the close handshake on Disconnect.
	WriteTimeout time.Duration
	Header       http.Header
}

func setDefaultConfig(cfg *Config) {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 64 << 10
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
}

// Transport is a single-use-at-a-time WebSocket client.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	logger log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// New returns a disconnected transport.
func New(cfg Config) *Transport {
	setDefaultConfig(&cfg)
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: log.WithName("link-b"),
	}
}

func (t *Transport) Kind() core.TransportKind { return core.LinkB }

// Connect dials target, which must be a ws:// or wss:// URL. The URL is
// also the endpoint identifier.
func (t *Transport) Connect(ctx context.Context, target string, events core.Events) (string, error) {
	const op = "ws.connect"

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", core.Errorf(core.KindHandshakeFailure, op, "invalid WebSocket URL %q", target)
	}

	// Release anything left over from an earlier session.
	_ = t.Disconnect()

	t.logger.Info("Dialing", "url", target)
	conn, resp, err := t.dialer.DialContext(ctx, target, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return "", core.Wrap(core.KindHandshakeFailure, op, err, "server refused upgrade: "+resp.Status)
		}
		return "", core.Wrap(core.KindHandshakeFailure, op, err, "could not reach "+target)
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.done = done
	t.mu.Unlock()

	go t.readLoop(conn, done, events)

	t.logger.Info("Connected", "url", target)
	return target, nil
}

// Disconnect sends a normal close frame, closes the socket and waits for the
// reader to exit. No disconnect callback fires.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	if conn == nil || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()
	<-done

	t.logger.Info("Disconnected")
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}, events core.Events) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			local := t.closed
			t.closed = true
			t.mu.Unlock()

			_ = conn.Close()
			close(done)

			if !local {
				t.logger.Warn("Connection lost", "error", err.Error())
				events.OnDisconnect(core.Wrap(core.KindUnsolicitedDisconnect, "ws.read", err, "connection closed by remote"))
			}
			return
		}

		rec, err := codec.DecodeMessage(data)
		if err != nil {
			events.OnFailure(err)
			continue
		}
		events.OnRecord(rec)
	}
}
