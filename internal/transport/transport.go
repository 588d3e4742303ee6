// Package transport connects a consumer to an engine. The local transport
// runs the engine loop in-process; the remote transport speaks the JSON
// protocol over the bridge's WebSocket stream. Either way intents go in and
// outputs come back on a channel, and no state is shared across the seam.
package transport

import (
	"context"
	"errors"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// Transport is the consumer-side view of an engine.
type Transport interface {
	// Messages delivers engine outputs in order. It is closed when the
	// transport stops; Err then reports why.
	Messages() <-chan protocol.Message
	Send(ctx context.Context, intent protocol.Intent) error
	Err() error
	Close() error
}

// Logger is the narrow logging surface transports need.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

const defaultBuffer = 256
