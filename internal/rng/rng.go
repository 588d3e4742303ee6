// Package rng provides the seeded pseudo-random source shared by plan
// generation and the tick scheduler. Two generators built from the same seed
// string always produce the same sequence.
package rng

import (
	"math"
	"unicode/utf16"
)

const (
	mulberryIncrement = 0x6d2b79f5
	twoPow32          = 4294967296.0
)

// RNG is a Mulberry32 generator. The zero value is not usable; call New.
type RNG struct {
	state uint32
}

// New hashes seed (31x rolling hash over UTF-16 code units) into the initial
// 32-bit state. An all-zero hash falls back to 1.
func New(seed string) *RNG {
	var hash int32
	for _, unit := range utf16.Encode([]rune(seed)) {
		hash = (hash << 5) - hash + int32(unit)
	}
	state := uint32(hash)
	if hash < 0 {
		state = uint32(-int64(hash))
	}
	if state == 0 {
		state = 1
	}
	return &RNG{state: state}
}

// State exposes the raw generator state. Tests use it to compare generators.
func (r *RNG) State() uint32 {
	return r.state
}

// Next returns a float in [0, 1).
func (r *RNG) Next() float64 {
	r.state += mulberryIncrement
	t := r.state
	t = (t ^ (t >> 15)) * (1 | t)
	t ^= t + (t^(t>>7))*(61|t)
	return float64(t^(t>>14)) / twoPow32
}

// Int returns an integer in the inclusive range [min, max].
func (r *RNG) Int(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return int(math.Floor(r.Next()*float64(max-min+1))) + min
}

// Float returns a float in [min, max).
func (r *RNG) Float(min, max float64) float64 {
	return r.Next()*(max-min) + min
}

// Bool reports true with the given probability.
func (r *RNG) Bool(probability float64) bool {
	return r.Next() < probability
}

// Noise returns smoothed noise in [-1, 1] over the continuous parameter t.
// Lattice points are spaced scale apart; values between them are blended with
// a smoothstep curve. The generator state is restored afterwards so noise
// lookups never disturb the main sequence.
func (r *RNG) Noise(t, scale float64) float64 {
	if scale <= 0 {
		scale = 0.1
	}
	n := math.Floor(t / scale)
	f := math.Mod(t, scale) / scale

	saved := r.state
	r.state ^= uint32(int64(n))
	v0 := r.Float(-1, 1)
	v1 := r.Float(-1, 1)
	r.state = saved

	u := f * f * (3 - 2*f)
	return v0*(1-u) + v1*u
}
