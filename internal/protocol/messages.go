package protocol

import "github.com/ajtruex/agenttrafficcontrol/internal/work"

// MessageType is the wire discriminant of an engine output.
type MessageType string

const (
	MessageSnapshot     MessageType = "snapshot"
	MessageTick         MessageType = "tick"
	MessageDepsCleared  MessageType = "deps_cleared"
	MessageStartItem    MessageType = "start_item"
	MessageCompleteItem MessageType = "complete_item"
)

// Message is an engine output.
type Message interface {
	Type() MessageType
	Accept(v MessageVisitor)
	isMessage()
}

// MessageVisitor handles every output variant.
type MessageVisitor interface {
	VisitSnapshot(Snapshot)
	VisitTick(Tick)
	VisitDepsCleared(DepsCleared)
	VisitStartItem(StartItem)
	VisitCompleteItem(CompleteItem)
}

// Snapshot carries the complete state. TickID is the last tick applied to it,
// so a consumer can resume its sequence guard exactly.
type Snapshot struct {
	TickID uint64     `json:"tick_id"`
	State  work.State `json:"state"`
}

// Tick carries only the records that changed during one pass plus the full
// metrics.
type Tick struct {
	TickID  uint64       `json:"tick_id"`
	Items   []ItemPatch  `json:"items,omitempty"`
	Agents  []AgentPatch `json:"agents,omitempty"`
	Metrics work.Metrics `json:"metrics"`
}

// DepsCleared reports an item whose dependencies are all done.
type DepsCleared struct {
	ID string `json:"id"`
}

// StartItem reports an admission and the agent spawned for it.
type StartItem struct {
	ID    string `json:"id"`
	Agent string `json:"agent"`
}

// CompleteItem reports an item reaching done.
type CompleteItem struct {
	ID string `json:"id"`
}

func (Snapshot) Type() MessageType     { return MessageSnapshot }
func (Tick) Type() MessageType         { return MessageTick }
func (DepsCleared) Type() MessageType  { return MessageDepsCleared }
func (StartItem) Type() MessageType    { return MessageStartItem }
func (CompleteItem) Type() MessageType { return MessageCompleteItem }

func (m Snapshot) Accept(v MessageVisitor)     { v.VisitSnapshot(m) }
func (m Tick) Accept(v MessageVisitor)         { v.VisitTick(m) }
func (m DepsCleared) Accept(v MessageVisitor)  { v.VisitDepsCleared(m) }
func (m StartItem) Accept(v MessageVisitor)    { v.VisitStartItem(m) }
func (m CompleteItem) Accept(v MessageVisitor) { v.VisitCompleteItem(m) }

func (Snapshot) isMessage()     {}
func (Tick) isMessage()         {}
func (DepsCleared) isMessage()  {}
func (StartItem) isMessage()    {}
func (CompleteItem) isMessage() {}

// ItemPatch lists the item fields that changed. Nil pointers mean unchanged.
// An AgentID pointing at the empty string clears the binding.
type ItemPatch struct {
	ID         string       `json:"id"`
	Status     *work.Status `json:"status,omitempty"`
	StartedAt  *float64     `json:"started_at,omitempty"`
	EtaMs      *float64     `json:"eta_ms,omitempty"`
	TPS        *float64     `json:"tps,omitempty"`
	TokensDone *float64     `json:"tokens_done,omitempty"`
	AgentID    *string      `json:"agent_id,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Status == nil && p.StartedAt == nil && p.EtaMs == nil &&
		p.TPS == nil && p.TokensDone == nil && p.AgentID == nil
}

// Apply merges the patch into item field by field.
func (p ItemPatch) Apply(item *work.WorkItem) {
	if item == nil {
		return
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.StartedAt != nil {
		item.StartedAt = work.Float64(*p.StartedAt)
	}
	if p.EtaMs != nil {
		item.EtaMs = work.Float64(*p.EtaMs)
	}
	if p.TPS != nil {
		item.TPS = *p.TPS
	}
	if p.TokensDone != nil {
		item.TokensDone = *p.TokensDone
	}
	if p.AgentID != nil {
		item.AgentID = *p.AgentID
	}
}

// AgentPatch lists agent fields that changed. Removed retires the agent.
type AgentPatch struct {
	ID         string   `json:"id"`
	WorkItemID *string  `json:"work_item_id,omitempty"`
	SpawnedAt  *float64 `json:"spawned_at,omitempty"`
	Removed    bool     `json:"removed,omitempty"`
}

// Apply merges the patch into agent field by field.
func (p AgentPatch) Apply(agent *work.Agent) {
	if agent == nil {
		return
	}
	if p.WorkItemID != nil {
		agent.WorkItemID = *p.WorkItemID
	}
	if p.SpawnedAt != nil {
		agent.SpawnedAt = *p.SpawnedAt
	}
}

// String returns a pointer to v for patch construction.
func String(v string) *string {
	return &v
}

// StatusPtr returns a pointer to s for patch construction.
func StatusPtr(s work.Status) *work.Status {
	return &s
}
