package hatrpo

import (
	"testing"

	"github.com/Joy1112/marl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectBatchActing(t *testing.T) {
	batch := singleAgentBatch(1, 1, 1)
	res, err := ProjectBatch(batch, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, batch, res)
}

func TestProjectBatchOpponent(t *testing.T) {
	batch := singleAgentBatch(1, 1, 1)
	batch[marl.SeqLens] = vec(3)
	addOpponent(batch, 0, 7, 1, 1, 1)
	batch[marl.AgentColumn(marl.Training, 0)] = vec(0)

	res, err := ProjectBatch(batch, 0, 3)
	require.NoError(t, err)
	for _, col := range []string{marl.Obs, marl.Actions, marl.ActionLogP, marl.ActionDistInputs} {
		assert.Equal(t, vecData(batch[marl.AgentColumn(col, 0)]), vecData(res[col]), col)
	}
	assert.Equal(t, []float64{3}, vecData(res[marl.SeqLens]))

	training, err := res.Flag(marl.Training)
	require.NoError(t, err)
	assert.False(t, training)

	assert.False(t, res.Has(marl.Advantages))
	assert.False(t, res.Has(marl.AgentColumn(marl.ModelColumn, 0)))
}

func TestProjectBatchStateSlots(t *testing.T) {
	batch := singleAgentBatch(1, 1, 1)
	addOpponent(batch, 1, 7, 1, 1, 1)
	batch[marl.StateSlot(0)] = vec(1, 1, 1)
	batch[marl.StateSlot(1)] = vec(2, 2, 2)
	batch[marl.AgentStateSlot(0, 1)] = vec(3, 3, 3)
	batch[marl.AgentStateSlot(1, 1)] = vec(4, 4, 4)
	batch[marl.AgentStateSlot(3, 1)] = vec(5, 5, 5)

	res, err := ProjectBatch(batch, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3}, vecData(res[marl.StateSlot(0)]))
	assert.Equal(t, []float64{4, 4, 4}, vecData(res[marl.StateSlot(1)]))
	assert.False(t, res.Has(marl.StateSlot(2)))
	assert.False(t, res.Has(marl.StateSlot(3)))
}

func TestProjectBatchMissingState(t *testing.T) {
	batch := singleAgentBatch(1, 1, 1)
	addOpponent(batch, 1, 7, 1, 1, 1)
	batch[marl.StateSlot(0)] = vec(1, 1, 1)

	_, err := ProjectBatch(batch, 1, 3)
	var missing *marl.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, marl.AgentStateSlot(0, 1), missing.Name)
}

func TestProjectBatchMissingObs(t *testing.T) {
	batch := singleAgentBatch(1, 1, 1)
	addOpponent(batch, 1, 7, 1, 1, 1)
	delete(batch, marl.AgentColumn(marl.Obs, 1))

	_, err := ProjectBatch(batch, 1, 3)
	var missing *marl.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, marl.AgentColumn(marl.Obs, 1), missing.Name)
}
