package work

import (
	"fmt"
	"strings"
	"time"
)

const (
	// TickInterval is the engine cadence (20 Hz).
	TickInterval = 50 * time.Millisecond
	// MaxConcurrent caps how many items may be in progress at once.
	MaxConcurrent = 12
	// CostPerTokenUSD prices every produced token.
	CostPerTokenUSD = 0.000002
	// TimeoutFactor forces completion once elapsed time exceeds this multiple
	// of an item's estimate.
	TimeoutFactor = 1.5
)

// Status enumerates work item lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusBlocked:    3,
	StatusDone:       4,
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusQueued, StatusAssigned, StatusInProgress, StatusBlocked, StatusDone}
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.TrimSpace(value))
	if !status.Valid() {
		return "", fmt.Errorf("work: unknown status %q", value)
	}
	return status, nil
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s in the lifecycle order, or -1.
func (s Status) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanAdvanceTo reports whether moving from s to next goes strictly forward.
func (s Status) CanAdvanceTo(next Status) bool {
	return s.Valid() && next.Valid() && next.Rank() > s.Rank()
}

// UnmarshalText rejects unknown statuses so snapshots round-trip exactly.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// WorkItem is one unit of simulated work.
type WorkItem struct {
	ID        string   `json:"id" yaml:"id"`
	Group     string   `json:"group" yaml:"group"`
	Sector    Sector   `json:"sector" yaml:"sector"`
	DependsOn []string `json:"depends_on" yaml:"depends_on,omitempty"`

	EstimateMs float64  `json:"estimate_ms" yaml:"estimate_ms"`
	StartedAt  *float64 `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EtaMs      *float64 `json:"eta_ms,omitempty" yaml:"eta_ms,omitempty"`

	TPSMin     float64 `json:"tps_min" yaml:"tps_min"`
	TPSMax     float64 `json:"tps_max" yaml:"tps_max"`
	TPS        float64 `json:"tps" yaml:"tps"`
	TokensDone float64 `json:"tokens_done" yaml:"tokens_done"`
	EstTokens  float64 `json:"est_tokens" yaml:"est_tokens"`

	Status  Status `json:"status" yaml:"status"`
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
}

// Clone returns a deep copy of the item.
func (w WorkItem) Clone() WorkItem {
	clone := w
	if len(w.DependsOn) > 0 {
		clone.DependsOn = make([]string, len(w.DependsOn))
		copy(clone.DependsOn, w.DependsOn)
	}
	if w.StartedAt != nil {
		v := *w.StartedAt
		clone.StartedAt = &v
	}
	if w.EtaMs != nil {
		v := *w.EtaMs
		clone.EtaMs = &v
	}
	return clone
}

// Agent is an ephemeral worker bound to exactly one in-progress item.
type Agent struct {
	ID         string  `json:"id"`
	WorkItemID string  `json:"work_item_id"`
	SpawnedAt  float64 `json:"spawned_at"`
}

// Metrics aggregates project-wide counters. It is recomputed in full every
// tick, never patched.
type Metrics struct {
	ActiveAgents   int     `json:"active_agents"`
	TotalTokens    float64 `json:"total_tokens"`
	TotalSpendUSD  float64 `json:"total_spend_usd"`
	LiveTPS        float64 `json:"live_tps"`
	LiveSpendPerS  float64 `json:"live_spend_per_s"`
	CompletionRate float64 `json:"completion_rate"`
}

// Float64 returns a pointer to v. Optional timing fields use it.
func Float64(v float64) *float64 {
	return &v
}
