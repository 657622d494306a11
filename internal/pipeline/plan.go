package pipeline

import (
	"fmt"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// BatchPlan partitions states, sorted by abbreviation, into fixed-size
// batches. It is recomputed on every run and never persisted.
type BatchPlan struct {
	Size    int
	Batches [][]domain.State
}

// NewBatchPlan builds the partition. The last batch may be short.
func NewBatchPlan(states []domain.State, size int) (BatchPlan, error) {
	if size < 1 {
		return BatchPlan{}, fmt.Errorf("batch size must be positive, got %d", size)
	}
	rules := domain.Rules{States: states}
	sorted := rules.SortedStates()

	plan := BatchPlan{Size: size}
	for start := 0; start < len(sorted); start += size {
		end := min(start+size, len(sorted))
		plan.Batches = append(plan.Batches, sorted[start:end])
	}
	return plan, nil
}

// Len is the number of batches.
func (p BatchPlan) Len() int { return len(p.Batches) }

// Batch returns batch n, counting from 1.
func (p BatchPlan) Batch(n int) ([]domain.State, error) {
	if n < 1 || n > len(p.Batches) {
		return nil, fmt.Errorf("batch %d out of range 1-%d", n, len(p.Batches))
	}
	return p.Batches[n-1], nil
}
