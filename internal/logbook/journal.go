package logbook

import (
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

// Record journals the notable parts of an engine output: plan loads, agent
// spawns and completions. Tick metrics and unchanged fields are ignored.
func (l *Logbook) Record(msg protocol.Message) {
	if l == nil || msg == nil {
		return
	}
	msg.Accept(recorder{book: l})
}

type recorder struct {
	book *Logbook
}

func (r recorder) VisitSnapshot(s protocol.Snapshot) {
	if s.TickID != 0 {
		return
	}
	r.book.Info("plan %s loaded with seed %q (%d items)", s.State.Plan, s.State.Seed, len(s.State.Items))
}

func (r recorder) VisitTick(t protocol.Tick) {
	for _, agent := range t.Agents {
		if agent.Removed || agent.WorkItemID == nil {
			continue
		}
		r.book.Info("tick %d: %s took %s", t.TickID, agent.ID, *agent.WorkItemID)
	}
	for _, item := range t.Items {
		if item.Status != nil && *item.Status == work.StatusDone {
			r.book.Info("tick %d: %s done", t.TickID, item.ID)
		}
	}
}

// Signals duplicate what the tick diff already carries.
func (recorder) VisitDepsCleared(protocol.DepsCleared)   {}
func (recorder) VisitStartItem(protocol.StartItem)       {}
func (recorder) VisitCompleteItem(protocol.CompleteItem) {}
