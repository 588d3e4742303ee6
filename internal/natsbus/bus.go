// Package natsbus mirrors the engine's output stream onto NATS subjects and
// accepts intents published by remote operators.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ajtruex/agenttrafficcontrol/internal/config"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// IntentSubject is the subject suffix operators publish intents on.
const IntentSubject = "intent"

// Config holds connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// ConfigFromProject pulls NATS settings out of the project config.
func ConfigFromProject(cfg *config.Config) (Config, bool) {
	if cfg == nil {
		return Config{}, false
	}
	raw := cfg.Project.NATS
	return Config{
		URL:           raw.URL,
		SubjectPrefix: raw.SubjectPrefix,
		MaxReconnects: 10,
		ReconnectWait: time.Second,
	}, raw.Enabled
}

// Logger is the subset of log.Logger used here.
type Logger interface {
	Printf(format string, args ...any)
}

// Controller receives intents decoded off the bus.
type Controller interface {
	Send(ctx context.Context, intent protocol.Intent) error
}

// Conn is the slice of *nats.Conn the bus depends on.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Bus publishes engine outputs and forwards inbound intents.
type Bus struct {
	conn   Conn
	prefix string
	logger Logger

	mu        sync.Mutex
	published int
	failed    int
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger routes bus diagnostics to l.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// Connect dials the server described by cfg.
func Connect(cfg Config, opts ...Option) (*Bus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("natsbus: url is required")
	}
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Name("atc-engine"),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	return New(conn, cfg.SubjectPrefix, opts...), nil
}

// New wraps an existing connection.
func New(conn Conn, prefix string, opts ...Option) *Bus {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "atc"
	}
	b := &Bus{conn: conn, prefix: prefix, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subject returns the subject a message kind is published on.
func (b *Bus) Subject(kind string) string {
	return b.prefix + "." + kind
}

// Deliver implements engine.Sink. Publish failures are logged and counted;
// the engine never blocks on the bus.
func (b *Bus) Deliver(msgs []protocol.Message) {
	for _, msg := range msgs {
		data, err := protocol.EncodeMessage(msg)
		if err != nil {
			b.logger.Printf("natsbus: encode %s: %v", msg.Type(), err)
			continue
		}
		subject := b.Subject(string(msg.Type()))
		b.mu.Lock()
		if err := b.conn.Publish(subject, data); err != nil {
			b.failed++
			b.mu.Unlock()
			b.logger.Printf("natsbus: publish %s: %v", subject, err)
			continue
		}
		b.published++
		b.mu.Unlock()
	}
}

// Stats reports publish counters.
func (b *Bus) Stats() (published, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.failed
}

// ServeIntents subscribes to <prefix>.intent and forwards every valid intent
// to ctrl until ctx is cancelled.
func (b *Bus) ServeIntents(ctx context.Context, ctrl Controller) error {
	sub, err := b.conn.Subscribe(b.Subject(IntentSubject), func(msg *nats.Msg) {
		b.HandleIntent(ctx, ctrl, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("natsbus: subscribe: %w", err)
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("natsbus: unsubscribe: %w", err)
	}
	return nil
}

// HandleIntent decodes one payload and hands it to ctrl.
func (b *Bus) HandleIntent(ctx context.Context, ctrl Controller, data []byte) {
	intent, err := protocol.DecodeIntent(data)
	if err != nil {
		b.logger.Printf("natsbus: bad intent: %v", err)
		return
	}
	if err := ctrl.Send(ctx, intent); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Printf("natsbus: send %s: %v", intent.Type(), err)
	}
}

// Close drains the connection, flushing pending publishes.
func (b *Bus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
