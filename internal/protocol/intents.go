// Package protocol defines the two closed message unions that cross the
// engine boundary: intents flowing in and outputs flowing out. Both unions are
// sealed; handlers implement a visitor interface so a missing case is a
// compile error rather than a silent fallthrough.
package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

// Version is reported by the bridge so remote consumers can detect drift.
const Version = "1"

// ErrInvalidIntent wraps every intent validation failure.
var ErrInvalidIntent = errors.New("protocol: invalid intent")

// IntentType is the wire discriminant of an intent.
type IntentType string

const (
	IntentSetRunning      IntentType = "set_running"
	IntentSetPlan         IntentType = "set_plan"
	IntentSetSeed         IntentType = "set_seed"
	IntentSetSpeed        IntentType = "set_speed"
	IntentRequestSnapshot IntentType = "request_snapshot"
)

// Intent is a consumer request to the engine.
type Intent interface {
	Type() IntentType
	Accept(v IntentVisitor)
	isIntent()
}

// IntentVisitor handles every intent variant.
type IntentVisitor interface {
	VisitSetRunning(SetRunning)
	VisitSetPlan(SetPlan)
	VisitSetSeed(SetSeed)
	VisitSetSpeed(SetSpeed)
	VisitRequestSnapshot(RequestSnapshot)
}

// SetRunning starts or stops the tick cadence without touching state.
type SetRunning struct {
	Running bool `json:"running"`
}

// SetPlan replaces the item set with a freshly generated plan.
type SetPlan struct {
	Plan plan.Name `json:"plan"`
}

// SetSeed reseeds the generator and regenerates the current plan.
type SetSeed struct {
	Seed string `json:"seed"`
}

// SetSpeed scales admission and progress on subsequent ticks.
type SetSpeed struct {
	Speed float64 `json:"speed"`
}

// RequestSnapshot asks for a full snapshot of the current state.
type RequestSnapshot struct{}

func (SetRunning) Type() IntentType      { return IntentSetRunning }
func (SetPlan) Type() IntentType         { return IntentSetPlan }
func (SetSeed) Type() IntentType         { return IntentSetSeed }
func (SetSpeed) Type() IntentType        { return IntentSetSpeed }
func (RequestSnapshot) Type() IntentType { return IntentRequestSnapshot }

func (i SetRunning) Accept(v IntentVisitor)      { v.VisitSetRunning(i) }
func (i SetPlan) Accept(v IntentVisitor)         { v.VisitSetPlan(i) }
func (i SetSeed) Accept(v IntentVisitor)         { v.VisitSetSeed(i) }
func (i SetSpeed) Accept(v IntentVisitor)        { v.VisitSetSpeed(i) }
func (i RequestSnapshot) Accept(v IntentVisitor) { v.VisitRequestSnapshot(i) }

func (SetRunning) isIntent()      {}
func (SetPlan) isIntent()         {}
func (SetSeed) isIntent()         {}
func (SetSpeed) isIntent()        {}
func (RequestSnapshot) isIntent() {}

// Validate checks intent payloads that the engine cannot act on.
func Validate(intent Intent) error {
	if intent == nil {
		return fmt.Errorf("%w: nil intent", ErrInvalidIntent)
	}
	v := &validator{}
	intent.Accept(v)
	return v.err
}

type validator struct {
	err error
}

func (v *validator) VisitSetRunning(SetRunning) {}

func (v *validator) VisitSetPlan(i SetPlan) {
	if _, err := plan.ParseName(string(i.Plan)); err != nil {
		v.err = fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}
}

func (v *validator) VisitSetSeed(SetSeed) {}

func (v *validator) VisitSetSpeed(i SetSpeed) {
	if i.Speed <= 0 || math.IsNaN(i.Speed) || math.IsInf(i.Speed, 0) {
		v.err = fmt.Errorf("%w: speed must be a positive number, got %v", ErrInvalidIntent, i.Speed)
	}
}

func (v *validator) VisitRequestSnapshot(RequestSnapshot) {}
