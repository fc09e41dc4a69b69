package composer

import "sort"

// TopN returns the n highest-scoring elements of items, best first. Equal
// scores keep their input order. items is not modified.
func TopN[T any](items []T, n int, score func(T) float32) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
