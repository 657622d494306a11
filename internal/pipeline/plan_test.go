package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/census-population-etl/internal/domain"
	"github.com/couchcryptid/census-population-etl/internal/pipeline"
)

func TestNewBatchPlan(t *testing.T) {
	rules := testRules(t)

	plan, err := pipeline.NewBatchPlan(rules.States, 10)
	require.NoError(t, err)
	require.Equal(t, 6, plan.Len())
	assert.Len(t, plan.Batches[5], 1)
	assert.Equal(t, "AK", plan.Batches[0][0].Abbr)
	assert.Equal(t, "WY", plan.Batches[5][0].Abbr)

	total := 0
	for _, b := range plan.Batches {
		total += len(b)
	}
	assert.Equal(t, len(rules.States), total)
}

func TestNewBatchPlan_DoesNotReorderInput(t *testing.T) {
	states := []domain.State{newJersey, maine}
	plan, err := pipeline.NewBatchPlan(states, 1)
	require.NoError(t, err)

	assert.Equal(t, "ME", plan.Batches[0][0].Abbr)
	assert.Equal(t, "NJ", plan.Batches[1][0].Abbr)
	assert.Equal(t, "NJ", states[0].Abbr)
}

func TestBatchPlan_Batch(t *testing.T) {
	plan, err := pipeline.NewBatchPlan([]domain.State{newJersey, maine}, 10)
	require.NoError(t, err)

	batch, err := plan.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, []domain.State{maine, newJersey}, batch)

	_, err = plan.Batch(0)
	require.Error(t, err)
	_, err = plan.Batch(2)
	require.Error(t, err)
}

func TestNewBatchPlan_InvalidSize(t *testing.T) {
	_, err := pipeline.NewBatchPlan([]domain.State{newJersey}, 0)
	require.Error(t, err)
}
