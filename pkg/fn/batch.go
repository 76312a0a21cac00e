package fn

// Chunk splits items into consecutive slices of at most n elements. The
// slices share items' backing array. Returns nil if n <= 0.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+n-1)/n)
	for len(items) > n {
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return append(out, items)
}
