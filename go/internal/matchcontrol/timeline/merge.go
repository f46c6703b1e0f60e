// Package timeline merges event batches from REST and push deliveries into the
// single list the control desk shows.
package timeline

import (
	"slices"

	"github.com/socrefy/matchdesk/go/internal/models"
)

// Merge concatenates the batches in call order, keeps the last event seen for each
// id, and returns the result sorted by timestamp, most recent first.
//
// A later batch can complete an event delivered earlier with a partial payload.
// Events without an id are dropped.
func Merge(batches ...[]models.MatchEvent) []models.MatchEvent {
	size := 0
	for _, batch := range batches {
		size += len(batch)
	}

	index := make(map[string]int, size)
	merged := make([]models.MatchEvent, 0, size)
	for _, batch := range batches {
		for _, event := range batch {
			if event.ID == "" {
				continue
			}
			if i, ok := index[event.ID]; ok {
				merged[i] = event
				continue
			}
			index[event.ID] = len(merged)
			merged = append(merged, event)
		}
	}

	slices.SortStableFunc(merged, func(a, b models.MatchEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return merged
}
