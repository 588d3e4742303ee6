package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

func TestEncodeIntentStampsType(t *testing.T) {
	data, err := EncodeIntent(SetSpeed{Speed: 2.5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := gjson.GetBytes(data, "type").String(); got != "set_speed" {
		t.Fatalf("expected set_speed discriminant, got %q in %s", got, data)
	}
	if got := gjson.GetBytes(data, "speed").Float(); got != 2.5 {
		t.Fatalf("expected speed 2.5, got %v", got)
	}
}

func TestDecodeIntentVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want Intent
	}{
		{raw: `{"type":"set_running","running":true}`, want: SetRunning{Running: true}},
		{raw: `{"type":"set_plan","plan":"Web"}`, want: SetPlan{Plan: plan.Web}},
		{raw: `{"type":"set_seed","seed":"x"}`, want: SetSeed{Seed: "x"}},
		{raw: `{"type":"set_speed","speed":3}`, want: SetSpeed{Speed: 3}},
		{raw: `{"type":"request_snapshot"}`, want: RequestSnapshot{}},
	}
	for _, tc := range cases {
		got, err := DecodeIntent([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %#v, got %#v", tc.raw, tc.want, got)
		}
	}
}

func TestDecodeIntentRejectsUnknownAndInvalid(t *testing.T) {
	if _, err := DecodeIntent([]byte(`{"type":"explode"}`)); !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
	if _, err := DecodeIntent([]byte(`{"running":true}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := DecodeIntent([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	if _, err := DecodeIntent([]byte(`{"type":"set_speed","speed":0}`)); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected ErrInvalidIntent for zero speed, got %v", err)
	}
	_, err := DecodeIntent([]byte(`{"type":"set_plan","plan":"Storm"}`))
	if !errors.Is(err, ErrInvalidIntent) || !errors.Is(err, plan.ErrUnknownPlan) {
		t.Fatalf("expected invalid plan error, got %v", err)
	}
}

func TestMessageRoundTripKeepsPatches(t *testing.T) {
	tick := Tick{
		TickID: 7,
		Items: []ItemPatch{{
			ID:         "A1",
			Status:     StatusPtr(work.StatusDone),
			TokensDone: work.Float64(120),
			AgentID:    String(""),
		}},
		Agents:  []AgentPatch{{ID: "agent-1", Removed: true}},
		Metrics: work.Metrics{ActiveAgents: 0, TotalTokens: 120, CompletionRate: 0.5},
	}
	data, err := EncodeMessage(tick)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"type":"tick"`) {
		t.Fatalf("missing discriminant: %s", data)
	}
	if strings.Contains(string(data), `"tps"`) {
		t.Fatalf("unchanged fields must be omitted: %s", data)
	}
	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(Tick)
	if !ok {
		t.Fatalf("expected Tick, got %T", decoded)
	}
	if got.TickID != 7 || len(got.Items) != 1 || len(got.Agents) != 1 {
		t.Fatalf("unexpected tick: %+v", got)
	}
	patch := got.Items[0]
	if patch.AgentID == nil || *patch.AgentID != "" {
		t.Fatalf("expected explicit agent clear, got %+v", patch.AgentID)
	}
	if !got.Agents[0].Removed {
		t.Fatalf("expected removed agent")
	}
}

func TestSnapshotRoundTripKeepsBlockedStatus(t *testing.T) {
	state := work.NewState("Calm", "x")
	state.Items["held"] = &work.WorkItem{ID: "held", Status: work.StatusBlocked}
	state.Order = []string{"held"}
	data, err := EncodeMessage(Snapshot{TickID: 3, State: state})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := decoded.(Snapshot)
	if snap.TickID != 3 || snap.State.Items["held"].Status != work.StatusBlocked {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestDecodeMessageRejectsUnknown(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"type":"fireworks"}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := DecodeMessage([]byte(`{"type":"tick","items":[{"id":"a","status":"exploded"}]}`)); err == nil {
		t.Fatalf("expected unknown status to fail decode")
	}
}

func TestItemPatchApplyMergesFields(t *testing.T) {
	item := &work.WorkItem{ID: "a", Status: work.StatusInProgress, TPS: 10, TokensDone: 5, AgentID: "agent-1"}
	ItemPatch{ID: "a", TokensDone: work.Float64(9)}.Apply(item)
	if item.TokensDone != 9 || item.TPS != 10 || item.AgentID != "agent-1" {
		t.Fatalf("patch replaced untouched fields: %+v", item)
	}
	ItemPatch{ID: "a", Status: StatusPtr(work.StatusDone), AgentID: String("")}.Apply(item)
	if item.Status != work.StatusDone || item.AgentID != "" {
		t.Fatalf("unexpected item after completion patch: %+v", item)
	}
	if !(ItemPatch{ID: "a"}).Empty() {
		t.Fatalf("id-only patch should be empty")
	}
}

type countingVisitor struct {
	seen []MessageType
}

func (c *countingVisitor) VisitSnapshot(Snapshot)         { c.seen = append(c.seen, MessageSnapshot) }
func (c *countingVisitor) VisitTick(Tick)                 { c.seen = append(c.seen, MessageTick) }
func (c *countingVisitor) VisitDepsCleared(DepsCleared)   { c.seen = append(c.seen, MessageDepsCleared) }
func (c *countingVisitor) VisitStartItem(StartItem)       { c.seen = append(c.seen, MessageStartItem) }
func (c *countingVisitor) VisitCompleteItem(CompleteItem) { c.seen = append(c.seen, MessageCompleteItem) }

func TestVisitorDispatch(t *testing.T) {
	msgs := []Message{Snapshot{}, Tick{}, DepsCleared{ID: "a"}, StartItem{ID: "a", Agent: "agent-1"}, CompleteItem{ID: "a"}}
	v := &countingVisitor{}
	for _, msg := range msgs {
		msg.Accept(v)
	}
	for i, msg := range msgs {
		if v.seen[i] != msg.Type() {
			t.Fatalf("visitor dispatched %s for %s", v.seen[i], msg.Type())
		}
	}
}
