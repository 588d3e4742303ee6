package work

import "sort"

// State is the aggregate root of a simulation run. The engine owns it
// exclusively; consumers only ever see clones.
type State struct {
	Items   map[string]*WorkItem `json:"items"`
	Agents  map[string]*Agent    `json:"agents"`
	Order   []string             `json:"order"`
	Metrics Metrics              `json:"metrics"`
	Seed    string               `json:"seed"`
	Plan    string               `json:"plan"`
	Speed   float64              `json:"speed"`
	Running bool                 `json:"running"`
}

// NewState returns an empty state for the given plan and seed.
func NewState(plan, seed string) State {
	return State{
		Items:  map[string]*WorkItem{},
		Agents: map[string]*Agent{},
		Seed:   seed,
		Plan:   plan,
		Speed:  1,
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	clone := State{
		Items:   make(map[string]*WorkItem, len(s.Items)),
		Agents:  make(map[string]*Agent, len(s.Agents)),
		Order:   cloneStrings(s.Order),
		Metrics: s.Metrics,
		Seed:    s.Seed,
		Plan:    s.Plan,
		Speed:   s.Speed,
		Running: s.Running,
	}
	for id, item := range s.Items {
		if item == nil {
			continue
		}
		copyItem := item.Clone()
		clone.Items[id] = &copyItem
	}
	for id, agent := range s.Agents {
		if agent == nil {
			continue
		}
		copyAgent := *agent
		clone.Agents[id] = &copyAgent
	}
	return clone
}

// OrderedItems returns items in declaration order. Ids listed in Order but
// missing from Items are skipped; items absent from Order follow sorted by id.
func (s State) OrderedItems() []*WorkItem {
	out := make([]*WorkItem, 0, len(s.Items))
	seen := make(map[string]struct{}, len(s.Order))
	for _, id := range s.Order {
		item, ok := s.Items[id]
		if !ok || item == nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	var extras []string
	for id, item := range s.Items {
		if _, ok := seen[id]; ok || item == nil {
			continue
		}
		extras = append(extras, id)
	}
	sort.Strings(extras)
	for _, id := range extras {
		out = append(out, s.Items[id])
	}
	return out
}

// CountByStatus tallies items per status.
func (s State) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(statusRank))
	for _, item := range s.Items {
		if item == nil {
			continue
		}
		counts[item.Status]++
	}
	return counts
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
