package hatrpo

import (
	"math/rand"
	"testing"

	"github.com/Joy1112/marl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialPermutationCoverage(t *testing.T) {
	const numAgents = 3
	const numRuns = 3000

	registry := marl.NewModelRegistry()
	acting := newLinearModel(2, 2, false)
	agentOf := map[marl.Model]int{acting: numAgents - 1}
	batch := singleAgentBatch(1, 1, 1)
	for i := 0; i < numAgents-1; i++ {
		m := newLinearModel(2, 2, false)
		agentOf[m] = i
		addOpponent(batch, i, registry.Register(m), 1, 1, 1)
	}

	rec := &updateRecorder{}
	rng := rand.New(rand.NewSource(1337))
	seq := &Sequential{
		NumAgents:   numAgents,
		ActionSpace: marl.Softmax{},
		Registry:    registry,
		NewUpdater:  rec.Factory,
		Permute:     rng.Perm,
	}
	out, err := acting.Apply(batch)
	require.NoError(t, err)

	var counts [numAgents][numAgents]int
	for run := 0; run < numRuns; run++ {
		rec.Updates = nil
		_, err := seq.Run(acting, batch, out, marl.MeanReducer{})
		require.NoError(t, err)
		require.Len(t, rec.Updates, numAgents)
		for pos, update := range rec.Updates {
			counts[pos][agentOf[update.Model]]++
		}
	}

	expected := numRuns / numAgents
	for pos, row := range counts {
		for agent, count := range row {
			assert.InDelta(t, expected, count, 150, "agent %d at position %d", agent, pos)
		}
	}
}

func TestSequentialLossIsMean(t *testing.T) {
	registry := marl.NewModelRegistry()
	acting := newLinearModel(2, 2, false)
	batch := singleAgentBatch(1, 1, 1)
	addOpponent(batch, 0, registry.Register(newLinearModel(2, 2, false)), 2, 2, 2)

	rec := &updateRecorder{}
	seq := &Sequential{
		NumAgents:   2,
		ActionSpace: marl.Softmax{},
		Registry:    registry,
		NewUpdater:  rec.Factory,
		Permute:     fixedOrder(1, 0),
	}
	out, err := acting.Apply(batch)
	require.NoError(t, err)
	loss, err := seq.Run(acting, batch, out, marl.MeanReducer{})
	require.NoError(t, err)

	// The acting agent goes first with ratio 1, then the
	// opponent doubles the unchanged advantages.
	assert.InDelta(t, (2.0+4.0)/2, marl.Scalar(loss.Output()), 1e-8)
}

func TestSequentialMissingAdvantages(t *testing.T) {
	acting := newLinearModel(2, 2, false)
	batch := singleAgentBatch(1, 1, 1)
	delete(batch, marl.Advantages)

	seq := &Sequential{
		NumAgents:   1,
		ActionSpace: marl.Softmax{},
		NewUpdater:  (&updateRecorder{}).Factory,
	}
	out, err := acting.Apply(batch)
	require.NoError(t, err)
	_, err = seq.Run(acting, batch, out, marl.MeanReducer{})
	var missing *marl.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, marl.Advantages, missing.Name)
}
