package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ajtruex/agenttrafficcontrol/internal/engine"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// Local runs an engine loop in a background goroutine.
type Local struct {
	loop     *engine.Loop
	messages chan protocol.Message
	cancel   context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewLocal starts a loop around eng. Outputs are delivered in order; a slow
// reader holds back the loop rather than losing messages.
func NewLocal(ctx context.Context, eng *engine.Engine, opts ...engine.LoopOption) *Local {
	runCtx, cancel := context.WithCancel(ctx)
	l := &Local{
		messages: make(chan protocol.Message, defaultBuffer),
		cancel:   cancel,
	}
	l.loop = engine.NewLoop(eng, engine.SinkFunc(func(msgs []protocol.Message) {
		for _, msg := range msgs {
			select {
			case l.messages <- msg:
			case <-runCtx.Done():
				return
			}
		}
	}), opts...)
	go func() {
		err := l.loop.Run(runCtx)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.messages)
	}()
	return l
}

// Messages implements Transport.
func (l *Local) Messages() <-chan protocol.Message {
	return l.messages
}

// Send implements Transport.
func (l *Local) Send(ctx context.Context, intent protocol.Intent) error {
	if err := l.loop.Send(ctx, intent); err != nil {
		if errors.Is(err, engine.ErrLoopStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Err implements Transport.
func (l *Local) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops the loop and waits for it to exit.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.loop.Done()
	})
	return nil
}
