package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/rng"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/resolver"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/scheduler"
)

// ErrTickInProgress is returned when a tick is requested while another one is
// still running.
var ErrTickInProgress = errors.New("engine: tick already in progress")

// tpsWander is the per-tick noise amplitude as a share of the tps range.
const tpsWander = 0.08

// Logger is the narrow logging surface the engine needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Engine runs one simulation instance.
type Engine struct {
	interval      time.Duration
	maxConcurrent int
	signals       bool
	policy        scheduler.Policy
	logger        Logger

	ticking atomic.Bool

	mu        sync.Mutex
	state     work.State
	planName  plan.Name
	rng       *rng.RNG
	scheduler *scheduler.Scheduler
	tickID    uint64
	agentSeq  int
	clockMs   float64
	graphNote string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithInterval overrides the tick interval used for simulated time.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxConcurrent overrides the in-progress ceiling.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithSignals enables deps_cleared, start_item and complete_item outputs.
func WithSignals(enabled bool) Option {
	return func(e *Engine) {
		e.signals = enabled
	}
}

// WithPolicy replaces the admission probability curve.
func WithPolicy(p scheduler.Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithSpeed sets the initial speed multiplier.
func WithSpeed(speed float64) Option {
	return func(e *Engine) {
		if speed > 0 {
			e.state.Speed = speed
		}
	}
}

// WithRunning sets whether the engine starts out ticking.
func WithRunning(running bool) Option {
	return func(e *Engine) {
		e.state.Running = running
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an engine for the named plan and seed.
func New(name plan.Name, seed string, opts ...Option) (*Engine, error) {
	parsed, err := plan.ParseName(string(name))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		interval:      work.TickInterval,
		maxConcurrent: work.MaxConcurrent,
		policy:        scheduler.DefaultPolicy(),
		logger:        nopLogger{},
		state:         work.State{Speed: 1},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	sched, err := scheduler.New(e.maxConcurrent, scheduler.WithPolicy(e.policy))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.scheduler = sched
	if err := e.reset(parsed, seed); err != nil {
		return nil, err
	}
	return e, nil
}

// Interval reports the configured tick cadence.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Running reports whether the cadence should be ticking.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Running
}

// TickID returns the id of the last completed tick.
func (e *Engine) TickID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickID
}

// Snapshot returns a full copy of the current state.
func (e *Engine) Snapshot() protocol.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Handle applies one intent and returns the outputs it produced. Invalid
// intents leave the state untouched.
func (e *Engine) Handle(intent protocol.Intent) ([]protocol.Message, error) {
	if err := protocol.Validate(intent); err != nil {
		e.logger.Printf("engine: rejected intent: %v", err)
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := &intentHandler{engine: e}
	intent.Accept(h)
	return h.out, h.err
}

// Tick runs one simulation pass. It never overlaps with another pass: a call
// made while a tick is running returns ErrTickInProgress.
func (e *Engine) Tick() ([]protocol.Message, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer e.ticking.Store(false)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickLocked(), nil
}

func (e *Engine) snapshotLocked() protocol.Snapshot {
	return protocol.Snapshot{TickID: e.tickID, State: e.state.Clone()}
}

// reset regenerates the plan and clears all runtime state. The speed and
// running flag survive.
func (e *Engine) reset(name plan.Name, seed string) error {
	r := rng.New(seed)
	generated, err := plan.Generate(name, seed, r)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	speed, running := e.state.Speed, e.state.Running
	if speed <= 0 {
		speed = 1
	}
	state := work.NewState(string(name), seed)
	state.Items = generated.ItemMap()
	state.Order = generated.Order()
	state.Speed = speed
	state.Running = running
	state.Metrics = ComputeMetrics(state)

	e.state = state
	e.planName = name
	e.rng = r
	e.tickID = 0
	e.agentSeq = 0
	e.clockMs = 0
	e.graphNote = ""
	e.noteGraph(resolver.Resolve(state.Items, state.Order))
	return nil
}

type intentHandler struct {
	engine *Engine
	out    []protocol.Message
	err    error
}

func (h *intentHandler) VisitSetRunning(i protocol.SetRunning) {
	h.engine.state.Running = i.Running
}

func (h *intentHandler) VisitSetPlan(i protocol.SetPlan) {
	name, err := plan.ParseName(string(i.Plan))
	if err != nil {
		h.err = fmt.Errorf("engine: %w", err)
		return
	}
	h.replan(name, h.engine.state.Seed)
}

func (h *intentHandler) VisitSetSeed(i protocol.SetSeed) {
	h.replan(h.engine.planName, i.Seed)
}

func (h *intentHandler) VisitSetSpeed(i protocol.SetSpeed) {
	h.engine.state.Speed = i.Speed
}

func (h *intentHandler) VisitRequestSnapshot(protocol.RequestSnapshot) {
	h.out = append(h.out, h.engine.snapshotLocked())
}

func (h *intentHandler) replan(name plan.Name, seed string) {
	if err := h.engine.reset(name, seed); err != nil {
		h.err = err
		return
	}
	h.engine.logger.Printf("engine: loaded plan %s with seed %q (%d items)", name, seed, len(h.engine.state.Items))
	h.out = append(h.out, h.engine.snapshotLocked())
}
