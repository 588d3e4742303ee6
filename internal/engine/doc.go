// Package engine owns a simulation run. An Engine holds the only mutable copy
// of the state; every change is routed through Handle (intents) or Tick (one
// simulation pass), and each returns the protocol messages describing what
// changed. Loop drives Tick on a fixed cadence and forwards outputs to a Sink.
//
// The simulated clock advances by interval × speed per tick, so two engines
// built from the same plan and seed emit identical message sequences no
// matter how late the timer fires.
package engine
