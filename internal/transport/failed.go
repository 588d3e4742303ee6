package transport

import (
	"context"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// Failed stands in for a transport that never came up. Its message channel
// is already closed, so a consumer sees the failure on its first read.
type Failed struct {
	err      error
	messages chan protocol.Message
}

// NewFailed wraps the error that kept a transport from starting.
func NewFailed(err error) *Failed {
	messages := make(chan protocol.Message)
	close(messages)
	return &Failed{err: err, messages: messages}
}

// Messages implements Transport.
func (f *Failed) Messages() <-chan protocol.Message { return f.messages }

// Send implements Transport. Nothing is ever delivered.
func (f *Failed) Send(context.Context, protocol.Intent) error { return ErrClosed }

// Err implements Transport.
func (f *Failed) Err() error { return f.err }

// Close implements Transport.
func (f *Failed) Close() error { return nil }
