package scheduler

import (
	"fmt"
	"math"

	"github.com/ajtruex/agenttrafficcontrol/internal/rng"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
)

const (
	// DefaultBaseProbability is the per-attempt admission chance at speed 1.
	DefaultBaseProbability = 0.35
	// DefaultMaxProbability caps the admission chance at high speeds.
	DefaultMaxProbability = 0.9
)

// Policy maps the speed multiplier to a per-attempt admission probability.
type Policy interface {
	Probability(speed float64) float64
}

// SpeedScaled multiplies Base by speed and caps the result at Max.
type SpeedScaled struct {
	Base float64
	Max  float64
}

// Probability implements Policy.
func (p SpeedScaled) Probability(speed float64) float64 {
	if speed <= 0 || math.IsNaN(speed) {
		speed = 1
	}
	prob := p.Base * speed
	if prob > p.Max {
		prob = p.Max
	}
	if prob < 0 {
		prob = 0
	}
	return prob
}

// DefaultPolicy returns the speed-scaled policy used by the engine.
func DefaultPolicy() Policy {
	return SpeedScaled{Base: DefaultBaseProbability, Max: DefaultMaxProbability}
}

// Scheduler admits assigned items into progress.
type Scheduler struct {
	maxParallel int
	policy      Policy
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithPolicy replaces the admission probability curve.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

// New builds a scheduler enforcing maxParallel concurrent items.
func New(maxParallel int, opts ...Option) (*Scheduler, error) {
	if maxParallel <= 0 {
		return nil, fmt.Errorf("scheduler: max parallel must be > 0, got %d", maxParallel)
	}
	s := &Scheduler{maxParallel: maxParallel, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxParallel returns the concurrency ceiling.
func (s *Scheduler) MaxParallel() int {
	return s.maxParallel
}

// Request captures the tick's admission inputs.
type Request struct {
	// Candidates lists assigned item ids in admission priority order.
	Candidates []string
	// Running counts items already in progress.
	Running int
	// Speed is the current simulation speed multiplier.
	Speed float64
}

// Batch describes the scheduler's decision.
type Batch struct {
	Admitted []string
}

// Admit promotes candidates one at a time while capacity remains, stopping at
// the first failed probability draw.
func (s *Scheduler) Admit(req Request, r *rng.RNG) Batch {
	batch := Batch{}
	if len(req.Candidates) == 0 {
		return batch
	}
	prob := s.policy.Probability(req.Speed)
	running := req.Running
	for _, id := range req.Candidates {
		if running >= s.maxParallel || !r.Bool(prob) {
			break
		}
		batch.Admitted = append(batch.Admitted, id)
		running++
	}
	return batch
}

// AssignedCandidates filters items down to assigned ids, preserving order.
func AssignedCandidates(items []*work.WorkItem) []string {
	var out []string
	for _, item := range items {
		if item != nil && item.Status == work.StatusAssigned {
			out = append(out, item.ID)
		}
	}
	return out
}
