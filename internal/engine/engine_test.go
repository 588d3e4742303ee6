package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

func TestEnginesWithSameSeedEmitIdenticalTicks(t *testing.T) {
	for _, name := range plan.Names() {
		a := mustEngine(t, name, "determinism")
		b := mustEngine(t, name, "determinism")
		for i := 0; i < 400; i++ {
			left := encodeAll(t, mustTick(t, a))
			right := encodeAll(t, mustTick(t, b))
			if !bytes.Equal(left, right) {
				t.Fatalf("%s: tick %d diverged:\n%s\n%s", name, i+1, left, right)
			}
		}
	}
}

func TestTickInvariantsHold(t *testing.T) {
	for _, name := range plan.Names() {
		e := mustEngine(t, name, "invariants", WithMaxConcurrent(3), WithSpeed(2))
		ranks := map[string]int{}
		sawActive := map[string]bool{}
		for i := 0; i < 3000; i++ {
			mustTick(t, e)
			state := e.Snapshot().State
			inProgress := 0
			for _, item := range state.OrderedItems() {
				rank := item.Status.Rank()
				if rank < ranks[item.ID] {
					t.Fatalf("%s: %s regressed to %s", name, item.ID, item.Status)
				}
				ranks[item.ID] = rank
				switch item.Status {
				case work.StatusInProgress:
					inProgress++
					sawActive[item.ID] = true
					agent, ok := state.Agents[item.AgentID]
					if !ok || agent.WorkItemID != item.ID {
						t.Fatalf("%s: %s has no bound agent", name, item.ID)
					}
				case work.StatusDone:
					if !sawActive[item.ID] {
						t.Fatalf("%s: %s reached done without an in_progress observation", name, item.ID)
					}
					if item.TokensDone != item.EstTokens {
						t.Fatalf("%s: %s done with %v of %v tokens", name, item.ID, item.TokensDone, item.EstTokens)
					}
					if item.AgentID != "" {
						t.Fatalf("%s: %s kept agent %s after completion", name, item.ID, item.AgentID)
					}
				default:
					if item.AgentID != "" {
						t.Fatalf("%s: %s holds an agent while %s", name, item.ID, item.Status)
					}
				}
				if item.TokensDone > item.EstTokens {
					t.Fatalf("%s: %s overshot tokens", name, item.ID)
				}
				if item.Status != work.StatusQueued {
					for _, dep := range item.DependsOn {
						if d, ok := state.Items[dep]; ok && d.Status != work.StatusDone {
							t.Fatalf("%s: %s left queued before %s was done", name, item.ID, dep)
						}
					}
				}
			}
			if inProgress > 3 {
				t.Fatalf("%s: %d items in progress above the ceiling", name, inProgress)
			}
			if len(state.Agents) != inProgress {
				t.Fatalf("%s: %d agents for %d active items", name, len(state.Agents), inProgress)
			}
			if state.Metrics.ActiveAgents != inProgress {
				t.Fatalf("%s: metrics report %d agents", name, state.Metrics.ActiveAgents)
			}
		}
	}
}

func TestCalmScenarioCompletes(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	var last protocol.Tick
	for i := 0; i < 20000 && !allDone(e.Snapshot().State); i++ {
		last = lastTick(t, mustTick(t, e))
	}
	state := e.Snapshot().State
	if !allDone(state) {
		t.Fatalf("calm plan did not finish: %v", state.CountByStatus())
	}
	if state.Metrics.CompletionRate != 1.0 || last.Metrics.CompletionRate != 1.0 {
		t.Fatalf("expected completion rate 1.0, got %v", state.Metrics.CompletionRate)
	}
	if len(state.Agents) != 0 || state.Metrics.LiveTPS != 0 {
		t.Fatalf("expected idle engine, got %+v", state.Metrics)
	}
	var want float64
	for _, item := range state.Items {
		want += item.EstTokens
	}
	if diff := state.Metrics.TotalTokens - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected %v total tokens, got %v", want, state.Metrics.TotalTokens)
	}

	idle := lastTick(t, mustTick(t, e))
	if len(idle.Items) != 0 || len(idle.Agents) != 0 {
		t.Fatalf("quiet tick should carry no records: %+v", idle)
	}
}

func TestCycleNeverStarts(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	e.state.Items = map[string]*work.WorkItem{
		"x":    testItem("x", "y"),
		"y":    testItem("y", "x"),
		"z":    testItem("z", "x"),
		"free": testItem("free", "ghost"),
	}
	e.state.Order = []string{"x", "y", "z", "free"}
	for i := 0; i < 2000; i++ {
		mustTick(t, e)
	}
	state := e.Snapshot().State
	for _, id := range []string{"x", "y", "z"} {
		if state.Items[id].Status != work.StatusQueued {
			t.Fatalf("%s should stay queued, got %s", id, state.Items[id].Status)
		}
	}
	if state.Items["free"].Status != work.StatusDone {
		t.Fatalf("free should finish despite a missing dependency, got %s", state.Items["free"].Status)
	}
	if state.Metrics.CompletionRate != 1.0 {
		t.Fatalf("cycle members are not eligible and must not count: %v", state.Metrics.CompletionRate)
	}
}

func TestGraphProblemsAreLoggedOnce(t *testing.T) {
	logger := &captureLogger{}
	e := mustEngine(t, plan.Calm, "x", WithLogger(logger))
	if len(logger.lines) != 0 {
		t.Fatalf("generated plans should log no graph problems, got %q", logger.lines)
	}
	e.state.Items = map[string]*work.WorkItem{
		"x":    testItem("x", "y"),
		"y":    testItem("y", "x"),
		"free": testItem("free", "ghost"),
	}
	e.state.Order = []string{"x", "y", "free"}
	for i := 0; i < 3; i++ {
		mustTick(t, e)
	}
	if len(logger.lines) != 2 {
		t.Fatalf("expected one cycle line and one missing line, got %q", logger.lines)
	}
	if !strings.Contains(logger.lines[0], "dependency cycle through x, y") {
		t.Fatalf("unexpected cycle line: %q", logger.lines[0])
	}
	if !strings.Contains(logger.lines[1], "free->ghost") {
		t.Fatalf("unexpected missing line: %q", logger.lines[1])
	}
}

func TestReconfigurationResetsState(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x", WithPolicy(alwaysAdmit{}))
	for i := 0; i < 200; i++ {
		mustTick(t, e)
	}
	msgs, err := e.Handle(protocol.SetSeed{Seed: "y"})
	if err != nil {
		t.Fatalf("set seed: %v", err)
	}
	snap := onlySnapshot(t, msgs)
	if snap.TickID != 0 || len(snap.State.Agents) != 0 || snap.State.Seed != "y" {
		t.Fatalf("unexpected snapshot after reseed: tick=%d agents=%d seed=%q", snap.TickID, len(snap.State.Agents), snap.State.Seed)
	}
	for _, item := range snap.State.Items {
		if item.Status != work.StatusQueued || item.TokensDone != 0 {
			t.Fatalf("item %s not reset: %+v", item.ID, item)
		}
	}

	msgs, err = e.Handle(protocol.SetPlan{Plan: "rush"})
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	snap = onlySnapshot(t, msgs)
	if snap.State.Plan != string(plan.Rush) || snap.State.Seed != "y" {
		t.Fatalf("expected Rush with seed y, got %s/%s", snap.State.Plan, snap.State.Seed)
	}
	tick := lastTick(t, mustTick(t, e))
	if tick.TickID != 1 {
		t.Fatalf("tick counter not reset, got %d", tick.TickID)
	}
	if len(tick.Agents) != 1 || tick.Agents[0].ID != "agent-1" {
		t.Fatalf("agent counter not reset: %+v", tick.Agents)
	}
}

func TestReplanMatchesFreshEngine(t *testing.T) {
	replanned := mustEngine(t, plan.Web, "first")
	for i := 0; i < 50; i++ {
		mustTick(t, replanned)
	}
	if _, err := replanned.Handle(protocol.SetSeed{Seed: "second"}); err != nil {
		t.Fatalf("set seed: %v", err)
	}
	fresh := mustEngine(t, plan.Web, "second")
	for i := 0; i < 100; i++ {
		left := encodeAll(t, mustTick(t, replanned))
		right := encodeAll(t, mustTick(t, fresh))
		if !bytes.Equal(left, right) {
			t.Fatalf("tick %d differs after reseed", i+1)
		}
	}
}

func TestSpeedAndRunningLeaveStateAlone(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	mustTick(t, e)
	before := e.Snapshot()
	for _, intent := range []protocol.Intent{protocol.SetSpeed{Speed: 3}, protocol.SetRunning{Running: true}} {
		msgs, err := e.Handle(intent)
		if err != nil || len(msgs) != 0 {
			t.Fatalf("%s: expected no output, got %v (%v)", intent.Type(), msgs, err)
		}
	}
	after := e.Snapshot()
	if after.TickID != before.TickID || after.State.Speed != 3 || !after.State.Running {
		t.Fatalf("unexpected state after speed/running: %+v", after)
	}
	if len(after.State.Items) != len(before.State.Items) {
		t.Fatalf("items changed")
	}
	msgs, err := e.Handle(protocol.SetSeed{Seed: "again"})
	if err != nil {
		t.Fatalf("set seed: %v", err)
	}
	if snap := onlySnapshot(t, msgs); snap.State.Speed != 3 || !snap.State.Running {
		t.Fatalf("speed and running flag should survive a reseed")
	}
}

func TestHandleRejectsInvalidIntents(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	if _, err := e.Handle(protocol.SetSpeed{Speed: -1}); !errors.Is(err, protocol.ErrInvalidIntent) {
		t.Fatalf("expected invalid speed error, got %v", err)
	}
	if _, err := e.Handle(protocol.SetPlan{Plan: "Storm"}); !errors.Is(err, plan.ErrUnknownPlan) {
		t.Fatalf("expected unknown plan error, got %v", err)
	}
	if e.Snapshot().State.Speed != 1 || e.Snapshot().State.Plan != string(plan.Calm) {
		t.Fatalf("invalid intents must not mutate state")
	}
}

func TestRequestSnapshotReportsCurrentTick(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	for i := 0; i < 5; i++ {
		mustTick(t, e)
	}
	msgs, err := e.Handle(protocol.RequestSnapshot{})
	if err != nil {
		t.Fatalf("request snapshot: %v", err)
	}
	if snap := onlySnapshot(t, msgs); snap.TickID != 5 || len(snap.State.Order) != 12 {
		t.Fatalf("unexpected snapshot: tick=%d order=%v", snap.TickID, snap.State.Order)
	}
}

func TestSignalsPrecedeTheirTick(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x", WithSignals(true), WithPolicy(alwaysAdmit{}))
	msgs := mustTick(t, e)
	var types []protocol.MessageType
	for _, msg := range msgs {
		types = append(types, msg.Type())
	}
	want := []protocol.MessageType{
		protocol.MessageDepsCleared,
		protocol.MessageDepsCleared,
		protocol.MessageStartItem,
		protocol.MessageStartItem,
		protocol.MessageTick,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected message sequence: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected message sequence: %v", types)
		}
	}
	start := msgs[2].(protocol.StartItem)
	if start.ID != "A1" || start.Agent != "agent-1" {
		t.Fatalf("unexpected start signal: %+v", start)
	}
	tick := msgs[4].(protocol.Tick)
	if len(tick.Agents) != 2 || tick.Agents[0].WorkItemID == nil || *tick.Agents[0].WorkItemID != "A1" {
		t.Fatalf("expected spawned agents in the diff: %+v", tick.Agents)
	}
	for _, patch := range tick.Items {
		if patch.TokensDone != nil {
			t.Fatalf("items admitted this tick must not progress: %+v", patch)
		}
	}
}

func TestTickRejectsReentry(t *testing.T) {
	e := mustEngine(t, plan.Calm, "x")
	e.ticking.Store(true)
	if _, err := e.Tick(); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	e.ticking.Store(false)
	if _, err := e.Tick(); err != nil {
		t.Fatalf("tick after guard released: %v", err)
	}
}

func TestNewRejectsUnknownPlan(t *testing.T) {
	if _, err := New(plan.Name("Storm"), "x"); !errors.Is(err, plan.ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

type alwaysAdmit struct{}

func (alwaysAdmit) Probability(float64) float64 { return 1 }

func mustEngine(t *testing.T, name plan.Name, seed string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(name, seed, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func mustTick(t *testing.T, e *Engine) []protocol.Message {
	t.Helper()
	msgs, err := e.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return msgs
}

func lastTick(t *testing.T, msgs []protocol.Message) protocol.Tick {
	t.Helper()
	if len(msgs) == 0 {
		t.Fatalf("no messages emitted")
	}
	tick, ok := msgs[len(msgs)-1].(protocol.Tick)
	if !ok {
		t.Fatalf("expected tick last, got %T", msgs[len(msgs)-1])
	}
	return tick
}

func onlySnapshot(t *testing.T, msgs []protocol.Message) protocol.Snapshot {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	snap, ok := msgs[0].(protocol.Snapshot)
	if !ok {
		t.Fatalf("expected snapshot, got %T", msgs[0])
	}
	return snap
}

func encodeAll(t *testing.T, msgs []protocol.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, msg := range msgs {
		data, err := protocol.EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func allDone(state work.State) bool {
	for _, item := range state.Items {
		if item.Status != work.StatusDone {
			return false
		}
	}
	return len(state.Items) > 0
}

func testItem(id string, deps ...string) *work.WorkItem {
	return &work.WorkItem{
		ID:         id,
		DependsOn:  deps,
		EstimateMs: 1000,
		TPSMin:     10,
		TPSMax:     20,
		TPS:        15,
		EstTokens:  15,
		Status:     work.StatusQueued,
	}
}

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}
