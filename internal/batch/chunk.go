// Package batch splits large key sets into bounded chunks and runs one
// multi-key call per chunk.
package batch

// DefaultSize is the chunk size used when none is configured.
const DefaultSize = 100

// Chunk splits items into consecutive chunks of size, preserving order.
// Every chunk but the last holds exactly size items; the last holds the
// remainder. An empty input yields no chunks. A size below 1 means
// DefaultSize. Chunks share items' backing array.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
