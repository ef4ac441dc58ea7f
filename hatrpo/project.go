package hatrpo

import (
	"fmt"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ProjectBatch extracts the batch seen by one agent from a
// joint batch.
//
// Agent numAgents-1 is the acting agent, for which the
// joint batch is returned as-is.
// For any other agent, the result holds that agent's
// namespaced observations, actions, action log
// probabilities, stored distribution inputs, training flag
// and recurrent state, plus the shared sequence lengths,
// all under the canonical column names.
func ProjectBatch(joint marl.Batch, agent, numAgents int) (res marl.Batch, err error) {
	if agent == numAgents-1 {
		return joint, nil
	}
	defer essentials.AddCtxTo(fmt.Sprintf("project batch for agent %d", agent), &err)

	res = marl.Batch{}
	for _, col := range []string{marl.Obs, marl.Actions, marl.ActionLogP,
		marl.ActionDistInputs} {
		v, err := joint.Column(marl.AgentColumn(col, agent))
		if err != nil {
			return nil, err
		}
		res[col] = v
	}

	training, err := joint.Flag(marl.AgentColumn(marl.Training, agent))
	if err != nil {
		return nil, err
	}
	res[marl.Training] = trainingFlag(res[marl.Obs].Creator(), training)

	if joint.Has(marl.SeqLens) {
		res[marl.SeqLens] = joint[marl.SeqLens]
	}

	// State slots are numbered contiguously, so the
	// first gap ends the scan.
	for i := 0; joint.Has(marl.StateSlot(i)) || joint.Has(marl.AgentStateSlot(i, agent)); i++ {
		v, err := joint.Column(marl.AgentStateSlot(i, agent))
		if err != nil {
			return nil, err
		}
		res[marl.StateSlot(i)] = v
	}

	return res, nil
}

func trainingFlag(c anyvec.Creator, training bool) anyvec.Vector {
	if training {
		return anyvec.Ones(c, 1)
	}
	return c.MakeVector(1)
}
