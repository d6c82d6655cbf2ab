// Package determinism provides the seeded RNG and turn clock used by game
// engines. Both are pure value types: given the same seed and call sequence
// they produce bit-identical results, which keeps action replays auditable.
package determinism

import "errors"

// ErrEmptyChoice indicates a random choice was requested from an empty slice.
var ErrEmptyChoice = errors.New("cannot select from empty slice")

// SeededRNG is a deterministic pseudo-random number generator.
//
// It iterates a mulberry32 mixing function over a 32-bit state. Every draw
// derives from Next, so two generators constructed with the same seed yield
// identical infinite sequences.
type SeededRNG struct {
	state uint32
}

// NewSeededRNG creates a generator from a 32-bit state.
func NewSeededRNG(seed uint32) *SeededRNG {
	return &SeededRNG{state: seed}
}

// FromString creates a generator from a string seed. The seed is hashed to a
// 32-bit integer; equal strings always map to the same generator state.
func FromString(seed string) *SeededRNG {
	var hash uint32
	for _, c := range seed {
		hash = (hash << 5) - hash + uint32(c)
	}
	return NewSeededRNG(hash)
}

// Next returns the next float in [0, 1).
func (r *SeededRNG) Next() float64 {
	r.state += 0x6d2b79f5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}

// IntN returns an integer in [min, max] inclusive.
func (r *SeededRNG) IntN(min, max int) int {
	return int(r.Next()*float64(max-min+1)) + min
}

// FloatN returns a float in [min, max).
func (r *SeededRNG) FloatN(min, max float64) float64 {
	return r.Next()*(max-min) + min
}

// Bool returns true with the given probability.
func (r *SeededRNG) Bool(probability float64) bool {
	return r.Next() < probability
}

// State returns the current generator state for checkpointing.
func (r *SeededRNG) State() uint32 {
	return r.state
}

// SetState restores a previously captured generator state.
func (r *SeededRNG) SetState(state uint32) {
	r.state = state
}

// Choice returns a uniformly selected element of items.
func Choice[T any](r *SeededRNG, items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrEmptyChoice
	}
	return items[r.IntN(0, len(items)-1)], nil
}

// Shuffle permutes items in place using the Fisher-Yates algorithm.
func Shuffle[T any](r *SeededRNG, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := r.IntN(0, i)
		items[i], items[j] = items[j], items[i]
	}
}
