// Package mirror keeps the consumer-side, read-only copy of the simulation
// state. It is rebuilt from snapshots and patched by tick diffs; diffs that
// arrive out of order are dropped rather than merged.
package mirror

import (
	"sync"
	"time"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

// DefaultThrottle bounds how often buffered messages reach the state.
const DefaultThrottle = 150 * time.Millisecond

// Stats counts what the mirror has seen.
type Stats struct {
	Snapshots int
	Applied   int
	Dropped   int
	Signals   int
	Flushes   int
}

// Mirror is safe for concurrent use: one goroutine feeds messages while the
// renderer reads State.
type Mirror struct {
	throttle time.Duration
	clock    func() time.Time

	mu        sync.RWMutex
	state     work.State
	lastTick  uint64
	synced    bool
	pending   []protocol.Message
	lastFlush time.Time
	stats     Stats
}

// Option customizes the mirror.
type Option func(*Mirror)

// WithThrottle overrides the flush window. Zero disables throttling.
func WithThrottle(d time.Duration) Option {
	return func(m *Mirror) {
		if d >= 0 {
			m.throttle = d
		}
	}
}

// WithClock allows tests to control the throttle window.
func WithClock(clock func() time.Time) Option {
	return func(m *Mirror) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New returns an empty mirror.
func New(opts ...Option) *Mirror {
	m := &Mirror{
		throttle: DefaultThrottle,
		clock:    time.Now,
		state:    work.NewState("", ""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// State returns a copy of the mirrored state.
func (m *Mirror) State() work.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// LastTick reports the sequence number of the last applied diff.
func (m *Mirror) LastTick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTick
}

// Synced reports whether a snapshot has been applied.
func (m *Mirror) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// Stats returns message counters.
func (m *Mirror) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Throttle returns the flush window.
func (m *Mirror) Throttle() time.Duration {
	return m.throttle
}

// Pending reports how many messages wait for the next flush.
func (m *Mirror) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Apply merges msg immediately. It reports false for stale diffs.
func (m *Mirror) Apply(msg protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(msg)
}

// ApplySnapshot replaces the state and resets the sequence guard.
func (m *Mirror) ApplySnapshot(s protocol.Snapshot) {
	m.Apply(s)
}

// ApplyTick merges a diff if its id is newer than the last applied one.
func (m *Mirror) ApplyTick(t protocol.Tick) bool {
	return m.Apply(t)
}

// Enqueue buffers msg until the next flush. A snapshot supersedes anything
// buffered before it.
func (m *Mirror) Enqueue(msg protocol.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := msg.(protocol.Snapshot); ok {
		m.pending = m.pending[:0]
	}
	m.pending = append(m.pending, msg)
}

// Flush applies buffered messages once the throttle window has elapsed since
// the previous flush. It reports whether anything was applied.
func (m *Mirror) Flush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if len(m.pending) == 0 {
		return false
	}
	if !m.lastFlush.IsZero() && now.Sub(m.lastFlush) < m.throttle {
		return false
	}
	return m.flushLocked(now)
}

// FlushNow applies buffered messages regardless of the throttle.
func (m *Mirror) FlushNow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return false
	}
	return m.flushLocked(m.clock())
}

func (m *Mirror) flushLocked(now time.Time) bool {
	changed := false
	for _, msg := range m.pending {
		if m.applyLocked(msg) {
			changed = true
		}
	}
	m.pending = m.pending[:0]
	m.lastFlush = now
	m.stats.Flushes++
	return changed
}

func (m *Mirror) applyLocked(msg protocol.Message) bool {
	if msg == nil {
		return false
	}
	a := &applier{mirror: m}
	msg.Accept(a)
	return a.applied
}

type applier struct {
	mirror  *Mirror
	applied bool
}

func (a *applier) VisitSnapshot(s protocol.Snapshot) {
	m := a.mirror
	m.state = s.State.Clone()
	if m.state.Items == nil {
		m.state.Items = map[string]*work.WorkItem{}
	}
	if m.state.Agents == nil {
		m.state.Agents = map[string]*work.Agent{}
	}
	m.lastTick = s.TickID
	m.synced = true
	m.stats.Snapshots++
	a.applied = true
}

func (a *applier) VisitTick(t protocol.Tick) {
	m := a.mirror
	if t.TickID <= m.lastTick {
		m.stats.Dropped++
		return
	}
	for _, patch := range t.Items {
		item, ok := m.state.Items[patch.ID]
		if !ok || item == nil {
			item = &work.WorkItem{ID: patch.ID, Status: work.StatusQueued}
			m.state.Items[patch.ID] = item
			m.state.Order = append(m.state.Order, patch.ID)
		}
		patch.Apply(item)
	}
	for _, patch := range t.Agents {
		if patch.Removed {
			delete(m.state.Agents, patch.ID)
			continue
		}
		agent, ok := m.state.Agents[patch.ID]
		if !ok || agent == nil {
			agent = &work.Agent{ID: patch.ID}
			m.state.Agents[patch.ID] = agent
		}
		patch.Apply(agent)
	}
	m.state.Metrics = t.Metrics
	m.lastTick = t.TickID
	m.stats.Applied++
	a.applied = true
}

func (a *applier) VisitDepsCleared(protocol.DepsCleared)   { a.mirror.stats.Signals++ }
func (a *applier) VisitStartItem(protocol.StartItem)       { a.mirror.stats.Signals++ }
func (a *applier) VisitCompleteItem(protocol.CompleteItem) { a.mirror.stats.Signals++ }
