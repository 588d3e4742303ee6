// Package scheduler turns the assigned backlog into admissions that respect
// the concurrency ceiling and a speed-scaled admission probability. It is a
// thin layer the engine calls once per tick.
package scheduler
