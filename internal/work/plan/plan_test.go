package plan

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ajtruex/agenttrafficcontrol/internal/rng"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

func TestGenerateIsDeterministic(t *testing.T) {
	for _, name := range Names() {
		first, err := Generate(name, "seed-1", rng.New("seed-1"))
		if err != nil {
			t.Fatalf("%s: generate: %v", name, err)
		}
		second, err := Generate(name, "seed-1", rng.New("seed-1"))
		if err != nil {
			t.Fatalf("%s: generate: %v", name, err)
		}
		if !reflect.DeepEqual(first.Items, second.Items) {
			t.Fatalf("%s: identical seeds produced different plans", name)
		}
	}
}

func TestGenerateEdgesPointBackwards(t *testing.T) {
	for _, name := range Names() {
		for _, seed := range []string{"a", "b", "c", "default", "x"} {
			p := mustGenerate(t, name, seed)
			seen := map[string]struct{}{}
			for _, item := range p.Items {
				for _, dep := range item.DependsOn {
					if _, ok := seen[dep]; !ok {
						t.Fatalf("%s/%s: %s depends on %s which is not declared earlier", name, seed, item.ID, dep)
					}
				}
				seen[item.ID] = struct{}{}
			}
		}
	}
}

func TestGenerateInitialItemState(t *testing.T) {
	for _, name := range Names() {
		p := mustGenerate(t, name, "x")
		if len(p.Items) == 0 {
			t.Fatalf("%s: no items generated", name)
		}
		ids := map[string]struct{}{}
		for _, item := range p.Items {
			if _, dup := ids[item.ID]; dup {
				t.Fatalf("%s: duplicate id %s", name, item.ID)
			}
			ids[item.ID] = struct{}{}
			if item.Status != work.StatusQueued {
				t.Fatalf("%s: %s starts as %s", name, item.ID, item.Status)
			}
			if item.TokensDone != 0 || item.StartedAt != nil || item.AgentID != "" {
				t.Fatalf("%s: %s has runtime fields set: %+v", name, item.ID, item)
			}
			if item.TPS < item.TPSMin || item.TPS > item.TPSMax {
				t.Fatalf("%s: %s tps %v outside [%v, %v]", name, item.ID, item.TPS, item.TPSMin, item.TPSMax)
			}
			if item.EstTokens < 1 || item.EstimateMs <= 0 {
				t.Fatalf("%s: %s has empty targets: %+v", name, item.ID, item)
			}
		}
	}
}

func TestCalmIsTwoChains(t *testing.T) {
	p := mustGenerate(t, Calm, "x")
	if len(p.Items) != 12 {
		t.Fatalf("expected 12 calm items, got %d", len(p.Items))
	}
	a1, ok := p.Item("A1")
	if !ok || len(a1.DependsOn) != 0 {
		t.Fatalf("A1 should be a chain root: %+v", a1)
	}
	b6, ok := p.Item("B6")
	if !ok || len(b6.DependsOn) != 1 || b6.DependsOn[0] != "B5" {
		t.Fatalf("B6 should depend on B5: %+v", b6)
	}
	if b6.Sector != work.SectorDeploy {
		t.Fatalf("chain tail should be a deploy item, got %s", b6.Sector)
	}
}

func TestRushJoinsAllBranches(t *testing.T) {
	p := mustGenerate(t, Rush, "x")
	join, ok := p.Item("R-join")
	if !ok {
		t.Fatalf("missing join item")
	}
	branches := 0
	for _, item := range p.Items {
		if strings.HasPrefix(item.ID, "R-e") {
			branches++
		}
	}
	if branches < 6 || branches > 9 {
		t.Fatalf("unexpected branch count %d", branches)
	}
	if len(join.DependsOn) != branches {
		t.Fatalf("join depends on %d items, want %d", len(join.DependsOn), branches)
	}
}

func TestWebCoversAllSectors(t *testing.T) {
	p := mustGenerate(t, Web, "x")
	perSector := map[work.Sector]int{}
	cross := 0
	sectorOf := map[string]work.Sector{}
	for _, item := range p.Items {
		perSector[item.Sector]++
		sectorOf[item.ID] = item.Sector
		for _, dep := range item.DependsOn {
			if sectorOf[dep] != item.Sector {
				cross++
			}
		}
	}
	for _, sector := range work.Sectors {
		if n := perSector[sector]; n < 3 || n > 5 {
			t.Fatalf("sector %s has %d items", sector, n)
		}
	}
	if cross == 0 {
		t.Fatalf("expected cross-sector edges")
	}
}

func TestParseName(t *testing.T) {
	name, err := ParseName("  rush ")
	if err != nil || name != Rush {
		t.Fatalf("expected Rush, got %q (%v)", name, err)
	}
	if _, err := ParseName("Storm"); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if _, err := Generate(Name("Storm"), "x", nil); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected generate to reject unknown plan, got %v", err)
	}
}

func TestYAMLIncludesItems(t *testing.T) {
	p := mustGenerate(t, Calm, "x")
	data, err := p.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "name: Calm") || !strings.Contains(text, "id: A1") {
		t.Fatalf("unexpected yaml output:\n%s", text)
	}
}

func mustGenerate(t *testing.T, name Name, seed string) Plan {
	t.Helper()
	p, err := Generate(name, seed, rng.New(seed))
	if err != nil {
		t.Fatalf("generate %s: %v", name, err)
	}
	return p
}
