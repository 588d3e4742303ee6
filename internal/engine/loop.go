package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// ErrLoopStopped is returned by Send once the loop has exited.
var ErrLoopStopped = errors.New("engine: loop stopped")

// Sink receives every batch of outputs the loop produces, in order.
type Sink interface {
	Deliver(msgs []protocol.Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msgs []protocol.Message)

// Deliver implements Sink.
func (f SinkFunc) Deliver(msgs []protocol.Message) {
	f(msgs)
}

// Fanout delivers every batch to each sink in turn.
type Fanout []Sink

// Deliver implements Sink.
func (f Fanout) Deliver(msgs []protocol.Message) {
	for _, sink := range f {
		if sink != nil {
			sink.Deliver(msgs)
		}
	}
}

// Ticker abstracts time.Ticker so tests can drive the cadence by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Loop runs an engine in a single goroutine: intents and ticks are processed
// one at a time, so a stop request never interrupts a pass.
type Loop struct {
	engine    *Engine
	sink      Sink
	logger    Logger
	newTicker func(time.Duration) Ticker

	intents chan protocol.Intent
	done    chan struct{}
}

// LoopOption customizes a loop.
type LoopOption func(*Loop)

// WithTickerFactory replaces the wall-clock ticker.
func WithTickerFactory(factory func(time.Duration) Ticker) LoopOption {
	return func(l *Loop) {
		if factory != nil {
			l.newTicker = factory
		}
	}
}

// WithLoopLogger overrides the default no-op logger.
func WithLoopLogger(logger Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop wires an engine to a sink.
func NewLoop(engine *Engine, sink Sink, opts ...LoopOption) *Loop {
	l := &Loop{
		engine: engine,
		sink:   sink,
		logger: nopLogger{},
		newTicker: func(d time.Duration) Ticker {
			return realTicker{t: time.NewTicker(d)}
		},
		intents: make(chan protocol.Intent, 32),
		done:    make(chan struct{}),
	}
	if l.sink == nil {
		l.sink = SinkFunc(func([]protocol.Message) {})
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Engine exposes the wrapped engine for read-only queries.
func (l *Loop) Engine() *Engine {
	return l.engine
}

// Snapshot returns the engine's current full state.
func (l *Loop) Snapshot() protocol.Snapshot {
	return l.engine.Snapshot()
}

// Send queues an intent for the loop goroutine.
func (l *Loop) Send(ctx context.Context, intent protocol.Intent) error {
	if err := protocol.Validate(intent); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.intents <- intent:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run emits the initial snapshot and then serves intents and ticks until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.sink.Deliver([]protocol.Message{l.engine.Snapshot()})

	var ticker Ticker
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
	}
	defer stopTicker()
	syncTicker := func() {
		running := l.engine.Running()
		switch {
		case running && ticker == nil:
			ticker = l.newTicker(l.engine.Interval())
			l.logger.Printf("engine: cadence started (%s)", l.engine.Interval())
		case !running && ticker != nil:
			stopTicker()
			l.logger.Printf("engine: cadence stopped at tick %d", l.engine.TickID())
		}
	}
	syncTicker()

	for {
		var tickC <-chan time.Time
		if ticker != nil {
			tickC = ticker.C()
		}
		select {
		case <-ctx.Done():
			return nil
		case intent := <-l.intents:
			msgs, err := l.engine.Handle(intent)
			if err != nil {
				l.logger.Printf("engine: %s: %v", intent.Type(), err)
			}
			if len(msgs) > 0 {
				l.sink.Deliver(msgs)
			}
			syncTicker()
		case <-tickC:
			msgs, err := l.engine.Tick()
			if err != nil {
				l.logger.Printf("engine: skipped tick: %v", err)
				continue
			}
			l.sink.Deliver(msgs)
		}
	}
}
