package models

import (
	"fmt"
	"math"
	"sort"
)

// ValidateChunks checks that every chunk id is derived from its document and index
func ValidateChunks(chunks []Chunk) error {
	for i, c := range chunks {
		if c.DocumentID == "" {
			return fmt.Errorf("%w: chunk %d has no document id", ErrInvalidChunk, i)
		}
		if c.Index < 0 {
			return fmt.Errorf("%w: chunk %d has negative index", ErrInvalidChunk, i)
		}
		if c.ID != ChunkID(c.DocumentID, c.Index) {
			return fmt.Errorf("%w: chunk id %q does not match %q", ErrInvalidChunk, c.ID, ChunkID(c.DocumentID, c.Index))
		}
	}
	return nil
}

// ClampScore maps a similarity into [0,1]
func ClampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// SortResults orders results by descending score. Ties keep the order given by seq, lowest first.
func SortResults(results []SearchResult, seq func(SearchResult) int64) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return seq(results[i]) < seq(results[j])
	})
}

// TiedAtCut reports whether the last of the sorted results scores the same as
// the k-th. When more results exist than were fetched, some of them may tie
// with the ones kept and the fetch has to be widened.
func TiedAtCut(sorted []SearchResult, k int) bool {
	if k <= 0 || len(sorted) < k {
		return false
	}
	return sorted[len(sorted)-1].Score == sorted[k-1].Score
}
