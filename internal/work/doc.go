// Package work defines the simulated work pipeline: work items flowing through
// dependency-gated stages, the agents bound to them, and the aggregate metrics
// recomputed each tick. Plan generation, dependency resolution and admission
// control live in the plan, resolver and scheduler subpackages.
package work
