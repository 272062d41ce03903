// Package shuffle provides reproducible, seed-driven permutations used to
// order quiz questions and answer options.
package shuffle

import "unicode/utf16"

const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
	lcgModulus    = 1 << 32
)

// Generator is a linear congruential generator producing values in [0, 1).
// A Generator is not safe for concurrent use; build one per shuffle.
type Generator struct {
	state uint64
}

// NewGenerator seeds a generator from a signed 32-bit integer. Negative
// seeds use their absolute value.
func NewGenerator(seed int32) *Generator {
	return &Generator{state: abs32(int64(seed))}
}

// NewGeneratorFromString seeds a generator from HashSeed(seed).
func NewGeneratorFromString(seed string) *Generator {
	return &Generator{state: abs32(int64(HashSeed(seed)))}
}

// Next advances the generator and returns state / 2^32.
func (g *Generator) Next() float64 {
	g.state = (lcgMultiplier*g.state + lcgIncrement) % lcgModulus
	return float64(g.state) / lcgModulus
}

// State returns the current internal state.
func (g *Generator) State() uint64 {
	return g.state
}

// HashSeed folds a string into a signed 32-bit integer with h = h*31 + unit
// over its UTF-16 code units, wrapping at every step.
func HashSeed(seed string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(seed)) {
		h = h*31 + int32(unit)
	}
	return h
}

// abs32 takes the absolute value in 64 bits so that MinInt32 maps to 2^31.
func abs32(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
