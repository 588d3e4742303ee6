package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

const writeWait = 5 * time.Second

// Remote talks to a bridge over its /ws endpoint.
type Remote struct {
	conn     *websocket.Conn
	logger   Logger
	messages chan protocol.Message

	writeMu   sync.Mutex
	mu        sync.Mutex
	err       error
	closed    bool
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// RemoteOption customizes the remote transport.
type RemoteOption func(*remoteConfig)

type remoteConfig struct {
	dialer *websocket.Dialer
	logger Logger
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) RemoteOption {
	return func(c *remoteConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) RemoteOption {
	return func(c *remoteConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Dial connects to the bridge at baseURL (http://host:port or ws://host:port).
func Dial(ctx context.Context, baseURL string, opts ...RemoteOption) (*Remote, error) {
	cfg := remoteConfig{dialer: websocket.DefaultDialer, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	endpoint, err := StreamURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, resp, err := cfg.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	r := &Remote{
		conn:     conn,
		logger:   cfg.logger,
		messages: make(chan protocol.Message, defaultBuffer),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
	go r.readPump()
	return r, nil
}

// StreamURL converts a bridge base URL into its websocket endpoint.
func StreamURL(baseURL string) (string, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return "", fmt.Errorf("transport: empty bridge url")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("transport: parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (r *Remote) readPump() {
	defer close(r.messages)
	defer close(r.done)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					r.logger.Printf("transport: websocket error: %v", err)
				}
				r.setErr(fmt.Errorf("transport: connection lost: %w", err))
			}
			return
		}
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			r.logger.Printf("transport: dropping frame: %v", err)
			continue
		}
		select {
		case r.messages <- msg:
		case <-r.quit:
			return
		}
	}
}

// Messages implements Transport.
func (r *Remote) Messages() <-chan protocol.Message {
	return r.messages
}

// Send encodes intent and writes it to the socket.
func (r *Remote) Send(ctx context.Context, intent protocol.Intent) error {
	if err := protocol.Validate(intent); err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := protocol.EncodeIntent(intent)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set deadline: %w", err)
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send %s: %w", intent.Type(), err)
	}
	return nil
}

// Err implements Transport.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close sends a close frame and waits for the reader to exit.
func (r *Remote) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.quit)
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.writeMu.Unlock()
		closeErr = r.conn.Close()
		<-r.done
		if errors.Is(closeErr, net.ErrClosed) {
			closeErr = nil
		}
	})
	return closeErr
}

func (r *Remote) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
