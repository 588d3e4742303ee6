package resolver

import (
	"sort"

	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

// NodeState represents the resolver's understanding of an item's readiness.
type NodeState string

const (
	NodeStateReady   NodeState = "ready"
	NodeStateWaiting NodeState = "waiting"
	NodeStateCyclic  NodeState = "cyclic"
	NodeStateBlocked NodeState = "blocked"
	NodeStateDone    NodeState = "done"
)

// Node captures one item's resolution result.
type Node struct {
	ID    string
	State NodeState
	// BlockedBy lists direct dependencies that are not yet satisfied.
	BlockedBy []string
	// Missing lists dependency ids absent from the item mapping. They never
	// block.
	Missing []string
}

// Resolution is the result of one resolver pass. It is only valid for the
// item statuses it was computed from.
type Resolution struct {
	nodes    map[string]*Node
	order    []string
	eligible map[string]struct{}
	cyclic   []string
}

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	resolved
)

type pass struct {
	items     map[string]*work.WorkItem
	state     map[string]visitState
	satisfied map[string]bool
	stack     []string
	cyclic    map[string]struct{}
}

// Resolve evaluates every item in items. order fixes the iteration and output
// order; items missing from order are appended sorted by id.
func Resolve(items map[string]*work.WorkItem, order []string) Resolution {
	ids := orderedIDs(items, order)
	p := &pass{
		items:     items,
		state:     make(map[string]visitState, len(items)),
		satisfied: make(map[string]bool, len(items)),
		cyclic:    map[string]struct{}{},
	}
	for _, id := range ids {
		p.depsSatisfied(id)
	}
	res := Resolution{
		nodes:    make(map[string]*Node, len(ids)),
		order:    ids,
		eligible: map[string]struct{}{},
	}
	for _, id := range ids {
		item := items[id]
		node := &Node{ID: id}
		for _, dep := range item.DependsOn {
			target, ok := items[dep]
			if !ok || target == nil {
				node.Missing = append(node.Missing, dep)
				continue
			}
			if !p.dependencySatisfied(dep) {
				node.BlockedBy = append(node.BlockedBy, dep)
			}
		}
		_, inCycle := p.cyclic[id]
		switch {
		case item.Status == work.StatusDone:
			node.State = NodeStateDone
		case item.Status == work.StatusBlocked:
			node.State = NodeStateBlocked
		case inCycle:
			node.State = NodeStateCyclic
		case p.satisfied[id]:
			node.State = NodeStateReady
			res.eligible[id] = struct{}{}
		default:
			node.State = NodeStateWaiting
		}
		if inCycle {
			res.cyclic = append(res.cyclic, id)
		}
		res.nodes[id] = node
	}
	return res
}

// depsSatisfied reports whether every listed dependency of id exists only as
// a done item whose own dependencies are satisfied. Missing dependencies are
// ignored. Meeting a node that is still on the stack marks the whole cycle
// unsatisfied.
func (p *pass) depsSatisfied(id string) bool {
	switch p.state[id] {
	case resolved:
		return p.satisfied[id]
	case visiting:
		p.markCycle(id)
		return false
	}
	item, ok := p.items[id]
	if !ok || item == nil {
		return true
	}
	p.state[id] = visiting
	p.stack = append(p.stack, id)
	ok = true
	for _, dep := range item.DependsOn {
		if !p.dependencySatisfied(dep) {
			ok = false
		}
	}
	p.stack = p.stack[:len(p.stack)-1]
	if _, inCycle := p.cyclic[id]; inCycle {
		ok = false
	}
	p.state[id] = resolved
	p.satisfied[id] = ok
	return ok
}

func (p *pass) dependencySatisfied(dep string) bool {
	target, exists := p.items[dep]
	if !exists || target == nil {
		return true
	}
	if !p.depsSatisfied(dep) {
		return false
	}
	if _, inCycle := p.cyclic[dep]; inCycle {
		return false
	}
	return target.Status == work.StatusDone
}

func (p *pass) markCycle(id string) {
	for i := len(p.stack) - 1; i >= 0; i-- {
		p.cyclic[p.stack[i]] = struct{}{}
		if p.stack[i] == id {
			return
		}
	}
}

// Eligible returns ids whose dependencies are all satisfied and which are not
// done, in resolution order.
func (r Resolution) Eligible() []string {
	out := make([]string, 0, len(r.eligible))
	for _, id := range r.order {
		if _, ok := r.eligible[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IsEligible reports whether id may start.
func (r Resolution) IsEligible(id string) bool {
	_, ok := r.eligible[id]
	return ok
}

// Node retrieves the resolution for id.
func (r Resolution) Node(id string) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Nodes returns every node in resolution order.
func (r Resolution) Nodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// Cyclic lists items that sit on a dependency cycle.
func (r Resolution) Cyclic() []string {
	if len(r.cyclic) == 0 {
		return nil
	}
	out := make([]string, len(r.cyclic))
	copy(out, r.cyclic)
	return out
}

func orderedIDs(items map[string]*work.WorkItem, order []string) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, id := range order {
		if item, ok := items[id]; !ok || item == nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	var extras []string
	for id, item := range items {
		if _, ok := seen[id]; ok || item == nil {
			continue
		}
		extras = append(extras, id)
	}
	sort.Strings(extras)
	return append(ids, extras...)
}
