package shuffle

// Shuffle returns a permutation of items determined entirely by seed. The
// input slice is never modified.
func Shuffle[T any](items []T, seed string) []T {
	out := make([]T, len(items))
	copy(out, items)

	rng := NewGeneratorFromString(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng.Next() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Permutation returns the index order Shuffle would apply to a slice of
// length n.
func Permutation(n int, seed string) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return Shuffle(idx, seed)
}

// DeriveSeed namespaces a session seed for a nested shuffle, such as the
// option order of a single question.
func DeriveSeed(seed, scope string) string {
	return seed + ":" + scope
}
