// Package plan builds the initial item set for each named plan topology.
// Generated dependency graphs are acyclic by construction: every edge points
// at an item created earlier in the same plan.
package plan

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajtruex/agenttrafficcontrol/internal/rng"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

// Name identifies one of the fixed plan topologies.
type Name string

const (
	// Calm is two independent linear chains.
	Calm Name = "Calm"
	// Rush is a fan-out/join diamond of short, fast items.
	Rush Name = "Rush"
	// Web spreads items over all four sectors with cross-sector edges.
	Web Name = "Web"
)

// DefaultName is used when no plan is configured.
const DefaultName = Calm

// ErrUnknownPlan is returned for names outside the fixed set.
var ErrUnknownPlan = errors.New("plan: unknown plan")

// Names lists the available plans in display order.
func Names() []Name {
	return []Name{Calm, Rush, Web}
}

// ParseName matches value against the known plans, ignoring case and
// surrounding whitespace.
func ParseName(value string) (Name, error) {
	trimmed := strings.TrimSpace(value)
	for _, name := range Names() {
		if strings.EqualFold(trimmed, string(name)) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownPlan, value)
}

// Description summarizes the plan shape for selectors.
func (n Name) Description() string {
	switch n {
	case Calm:
		return "Two linear chains, steady pacing"
	case Rush:
		return "Fan-out and join diamond, short bursts"
	case Web:
		return "Four sectors with cross-sector edges"
	}
	return ""
}

// Plan is a generated item set plus its declaration order.
type Plan struct {
	Name  Name            `yaml:"name"`
	Seed  string          `yaml:"seed"`
	Items []work.WorkItem `yaml:"items"`
	index map[string]int
}

// Generate builds the named plan, drawing every numeric parameter from r.
func Generate(name Name, seed string, r *rng.RNG) (Plan, error) {
	if r == nil {
		r = rng.New(seed)
	}
	b := &builder{rng: r, plan: Plan{Name: name, Seed: seed, index: map[string]int{}}}
	switch name {
	case Calm:
		b.calm()
	case Rush:
		b.rush()
	case Web:
		b.web()
	default:
		return Plan{}, fmt.Errorf("%w %q", ErrUnknownPlan, string(name))
	}
	return b.plan, nil
}

// Order returns item ids in declaration order.
func (p Plan) Order() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID
	}
	return ids
}

// ItemMap returns fresh copies of the items keyed by id.
func (p Plan) ItemMap() map[string]*work.WorkItem {
	out := make(map[string]*work.WorkItem, len(p.Items))
	for _, item := range p.Items {
		clone := item.Clone()
		out[item.ID] = &clone
	}
	return out
}

// Item looks up a generated item by id.
func (p Plan) Item(id string) (work.WorkItem, bool) {
	idx, ok := p.index[id]
	if !ok {
		return work.WorkItem{}, false
	}
	return p.Items[idx], true
}

// YAML renders the plan for inspection.
func (p Plan) YAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("plan: encode %s: %w", p.Name, err)
	}
	return data, nil
}

// profile fixes the numeric distribution for one plan's items.
type profile struct {
	estimateMin, estimateMax int
	tpsFloorMin, tpsFloorMax float64
	spreadMin, spreadMax     float64
}

var (
	calmProfile = profile{estimateMin: 4000, estimateMax: 8000, tpsFloorMin: 18, tpsFloorMax: 30, spreadMin: 10, spreadMax: 20}
	rushProfile = profile{estimateMin: 1500, estimateMax: 3500, tpsFloorMin: 50, tpsFloorMax: 90, spreadMin: 20, spreadMax: 50}
	webProfile  = profile{estimateMin: 2500, estimateMax: 6000, tpsFloorMin: 30, tpsFloorMax: 60, spreadMin: 15, spreadMax: 35}
)

var calmStages = []work.Sector{
	work.SectorPlanning,
	work.SectorBuild,
	work.SectorBuild,
	work.SectorEval,
	work.SectorEval,
	work.SectorDeploy,
}

type builder struct {
	rng  *rng.RNG
	plan Plan
}

func (b *builder) calm() {
	for _, chain := range []string{"A", "B"} {
		prev := ""
		for i, sector := range calmStages {
			id := fmt.Sprintf("%s%d", chain, i+1)
			var deps []string
			if prev != "" {
				deps = []string{prev}
			}
			b.add(id, "chain-"+strings.ToLower(chain), sector, deps, calmProfile)
			prev = id
		}
	}
}

func (b *builder) rush() {
	root := "R-root"
	b.add(root, "root", work.SectorPlanning, nil, rushProfile)
	branches := b.rng.Int(6, 9)
	evals := make([]string, 0, branches)
	for i := 1; i <= branches; i++ {
		group := fmt.Sprintf("branch-%d", i)
		build := fmt.Sprintf("R-b%d", i)
		eval := fmt.Sprintf("R-e%d", i)
		b.add(build, group, work.SectorBuild, []string{root}, rushProfile)
		b.add(eval, group, work.SectorEval, []string{build}, rushProfile)
		evals = append(evals, eval)
	}
	join := "R-join"
	b.add(join, "join", work.SectorEval, evals, rushProfile)
	b.add("R-ship", "join", work.SectorDeploy, []string{join}, rushProfile)
}

func (b *builder) web() {
	var previous []string
	var earlier []string
	for _, sector := range work.Sectors {
		count := b.rng.Int(3, 5)
		current := make([]string, 0, count)
		for j := 0; j < count; j++ {
			id := fmt.Sprintf("%s-%d", sector.Code(), j+1)
			var deps []string
			if j > 0 {
				deps = appendUnique(deps, current[b.rng.Int(0, j-1)])
			}
			if len(previous) > 0 {
				deps = appendUnique(deps, previous[b.rng.Int(0, len(previous)-1)])
				if b.rng.Bool(0.35) {
					deps = appendUnique(deps, earlier[b.rng.Int(0, len(earlier)-1)])
				}
			}
			b.add(id, sector.Code(), sector, deps, webProfile)
			current = append(current, id)
		}
		earlier = append(earlier, current...)
		previous = current
	}
}

func (b *builder) add(id, group string, sector work.Sector, deps []string, p profile) {
	estimate := float64(b.rng.Int(p.estimateMin, p.estimateMax))
	tpsMin := round1(b.rng.Float(p.tpsFloorMin, p.tpsFloorMax))
	tpsMax := round1(tpsMin + b.rng.Float(p.spreadMin, p.spreadMax))
	tps := b.rng.Float(tpsMin, tpsMax)
	estTokens := math.Max(1, math.Round((tpsMin+tpsMax)/2*estimate/1000))
	item := work.WorkItem{
		ID:         id,
		Group:      group,
		Sector:     sector,
		DependsOn:  deps,
		EstimateMs: estimate,
		TPSMin:     tpsMin,
		TPSMax:     tpsMax,
		TPS:        tps,
		EstTokens:  estTokens,
		Status:     work.StatusQueued,
	}
	b.plan.index[id] = len(b.plan.Items)
	b.plan.Items = append(b.plan.Items, item)
}

func appendUnique(values []string, id string) []string {
	for _, existing := range values {
		if existing == id {
			return values
		}
	}
	return append(values, id)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
