// Package chunker packs an ordered file list into bounded chunks, each of which
// becomes one output. Packing is greedy and order-preserving: a chunk is closed
// as soon as the next file would break a bound, never reordered or split.
package chunker

import (
	"github.com/twitter/condortask/domain"
)

// Unbounded disables a bound.
const Unbounded int64 = -1

// Chunk scans files in order. Before a file is added, the current chunk is closed when it
// already holds filesPerChunk files or when the file would push it past eventsPerChunk.
// A file that alone exceeds eventsPerChunk still gets its own chunk.
//
// A trailing chunk that is full by file count is always closed. Any other trailing files
// are closed into a chunk when flush is set and returned as leftover otherwise, so a later
// call can keep packing into them.
func Chunk(files []domain.File, filesPerChunk, eventsPerChunk int64, flush bool) (chunks [][]domain.File, leftover []domain.File) {
	var cur []domain.File
	var curEvents int64

	for _, f := range files {
		if len(cur) > 0 {
			full := filesPerChunk > 0 && int64(len(cur)) >= filesPerChunk
			over := eventsPerChunk > 0 && curEvents+f.EventsOrZero() > eventsPerChunk
			if full || over {
				chunks = append(chunks, cur)
				cur, curEvents = nil, 0
			}
		}
		cur = append(cur, f)
		curEvents += f.EventsOrZero()
	}

	if len(cur) == 0 {
		return chunks, nil
	}
	if flush || (filesPerChunk > 0 && int64(len(cur)) == filesPerChunk) {
		return append(chunks, cur), nil
	}
	return chunks, cur
}

// Replicate returns n copies of files. It backs the split-within-files mode, where each
// copy is one logical work unit and the worker picks its own event range.
func Replicate(files []domain.File, n int) [][]domain.File {
	chunks := make([][]domain.File, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, append([]domain.File(nil), files...))
	}
	return chunks
}
