package hatrpo

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrAgentCount is returned when a joint batch names an
// opponent outside of the configured agent range.
var ErrAgentCount = errors.New("opponent index out of agent range")

// Opponents finds the agents other than the acting agent
// whose models are referenced by a joint batch.
//
// An agent counts as an opponent if its model column holds
// a positive reference.
// An agent with data columns but no usable reference is an
// error, as is an opponent index outside [0, numAgents-2].
func Opponents(b marl.Batch, numAgents int) ([]int, error) {
	var res []int
	for _, agent := range b.AgentIDs() {
		if b.ModelRef(agent) > 0 {
			if agent >= numAgents-1 {
				return nil, essentials.AddCtx(fmt.Sprintf("agent %d of %d", agent, numAgents),
					ErrAgentCount)
			}
			res = append(res, agent)
		} else if b.HasAgentData(agent) {
			return nil, &marl.InvalidReferenceError{Ref: b.ModelRef(agent), Agent: agent}
		}
	}
	return res, nil
}

// Sequential updates every agent's policy in a random
// order, feeding each agent an advantage re-weighted by
// the importance ratios of the agents updated before it.
type Sequential struct {
	// NumAgents is the total number of agents.
	// Agent NumAgents-1 is the acting agent.
	NumAgents int

	ActionSpace marl.ActionSpace

	// Registry resolves the opponents' models.
	Registry *marl.ModelRegistry

	// NewUpdater creates one updater per agent.
	NewUpdater UpdaterFactory

	// Permute produces the update order.
	//
	// If nil, rand.Perm is used.
	Permute func(n int) []int

	// Logger, if non-nil, is used to log the order and
	// each agent's update.
	Logger Logger
}

// Run performs one sequential update and returns the mean
// of the per-agent surrogate losses.
//
// The acting agent's surrogate is computed from out, the
// result of applying model to batch.
// Opponent surrogates use the action distribution inputs
// stored in the batch.
// All means are taken with reducer.
func (s *Sequential) Run(model marl.Model, batch marl.Batch, out *marl.PolicyOut,
	reducer marl.Reducer) (loss anydiff.Res, err error) {
	defer essentials.AddCtxTo("sequential update", &err)

	advantage, err := batch.Column(marl.Advantages)
	if err != nil {
		return nil, err
	}

	order := s.permute(s.NumAgents)
	if s.Logger != nil {
		s.Logger.LogOrder(order)
	}

	var losses []anydiff.Res
	for _, agent := range order {
		step, err := s.agentStep(model, batch, out, agent)
		if err != nil {
			return nil, err
		}

		rows := step.OldLogProbs.Len()
		ratio := anydiff.Exp(anydiff.Sub(
			s.ActionSpace.LogProb(step.ActionParams, step.Actions, rows),
			anydiff.NewConst(step.OldLogProbs),
		))
		ratioVec := ratio.Output().Copy()

		agentLoss, err := reducer.Mean(anydiff.Mul(ratio, anydiff.NewConst(advantage)))
		if err != nil {
			return nil, essentials.AddCtx(fmt.Sprintf("agent %d", agent), err)
		}
		if s.Logger != nil {
			s.Logger.LogAgentUpdate(agent, marl.Scalar(agentLoss.Output()))
		}

		updater := s.NewUpdater(step.Model, s.ActionSpace, step.Batch, advantage)
		s.hookLineSearch(updater, agent)
		if err := updater.UpdateActor(agentLoss); err != nil {
			return nil, essentials.AddCtx(fmt.Sprintf("agent %d", agent), err)
		}
		losses = append(losses, agentLoss)

		next := advantage.Copy()
		next.Mul(ratioVec)
		advantage = next
	}

	if len(losses) == 0 {
		return nil, ErrAgentCount
	}
	loss = losses[0]
	for _, l := range losses[1:] {
		loss = anydiff.Add(loss, l)
	}
	c := loss.Output().Creator()
	return anydiff.Scale(loss, c.MakeNumeric(1/float64(len(losses)))), nil
}

// agentStep gathers what one agent's update needs.
func (s *Sequential) agentStep(model marl.Model, batch marl.Batch, out *marl.PolicyOut,
	agent int) (*agentStep, error) {
	if agent == s.NumAgents-1 {
		res := &agentStep{Model: model, Batch: batch, ActionParams: out.ActionParams}
		var err error
		if res.Actions, err = batch.Column(marl.Actions); err != nil {
			return nil, err
		}
		if res.OldLogProbs, err = batch.Column(marl.ActionLogP); err != nil {
			return nil, err
		}
		return res, nil
	}

	ref := batch.ModelRef(agent)
	m, err := s.Registry.Resolve(ref)
	if err != nil {
		var refErr *marl.InvalidReferenceError
		if errors.As(err, &refErr) {
			refErr.Agent = agent
		}
		return nil, err
	}
	projected, err := ProjectBatch(batch, agent, s.NumAgents)
	if err != nil {
		return nil, err
	}
	return &agentStep{
		Model:        m,
		Batch:        projected,
		ActionParams: anydiff.NewConst(projected[marl.ActionDistInputs]),
		Actions:      projected[marl.Actions],
		OldLogProbs:  projected[marl.ActionLogP],
	}, nil
}

func (s *Sequential) hookLineSearch(u ActorUpdater, agent int) {
	if s.Logger == nil {
		return
	}
	if tr, ok := u.(*TrustRegion); ok && tr.LogLineSearch == nil {
		tr.LogLineSearch = func(meanKL, improvement float64) {
			s.Logger.LogLineSearch(agent, meanKL, improvement)
		}
	}
}

func (s *Sequential) permute(n int) []int {
	if s.Permute == nil {
		return rand.Perm(n)
	}
	return s.Permute(n)
}

type agentStep struct {
	Model        marl.Model
	Batch        marl.Batch
	ActionParams anydiff.Res
	Actions      anyvec.Vector
	OldLogProbs  anyvec.Vector
}
