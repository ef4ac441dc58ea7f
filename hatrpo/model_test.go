package hatrpo

import (
	"math"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

var testCreator = anyvec64.DefaultCreator{}

// linearModel is a feed-forward softmax actor with a
// linear critic on the same observations.
type linearModel struct {
	Actor  *anynet.FC
	Critic *anynet.FC

	value   marl.ValueEstimator
	lastObs anyvec.Vector
	stats   *marl.Stats
}

func newLinearModel(obsSize, numActions int, random bool) *linearModel {
	m := &linearModel{Critic: anynet.NewFCZero(testCreator, obsSize, 1)}
	if random {
		m.Actor = anynet.NewFC(testCreator, obsSize, numActions)
	} else {
		m.Actor = anynet.NewFCZero(testCreator, obsSize, numActions)
	}
	m.value = &criticValue{Model: m}
	return m
}

func (l *linearModel) Parameters() []*anydiff.Var {
	return l.Actor.Parameters()
}

func (l *linearModel) Apply(b marl.Batch) (*marl.PolicyOut, error) {
	obs, err := b.Column(marl.Obs)
	if err != nil {
		return nil, err
	}
	l.lastObs = obs
	rows := obs.Len() / l.Actor.InCount
	return &marl.PolicyOut{ActionParams: l.Actor.Apply(anydiff.NewConst(obs), rows)}, nil
}

func (l *linearModel) ValueEstimator() marl.ValueEstimator {
	return l.value
}

func (l *linearModel) SetValueEstimator(v marl.ValueEstimator) {
	l.value = v
}

func (l *linearModel) RecordStats(s *marl.Stats) {
	l.stats = s
}

type criticValue struct {
	Model *linearModel
}

func (c *criticValue) Value() anydiff.Res {
	rows := c.Model.lastObs.Len() / c.Model.Critic.InCount
	return c.Model.Critic.Apply(anydiff.NewConst(c.Model.lastObs), rows)
}

// centralModel adds a centralized critic which reads the
// global state.
type centralModel struct {
	*linearModel
	Central *anynet.FC

	centralCalls int
	sawCentral   bool
}

func (c *centralModel) CentralValue(state, jointActions anyvec.Vector) anydiff.Res {
	c.centralCalls++
	_, c.sawCentral = c.value.(*CentralValue)
	rows := state.Len() / c.Central.InCount
	return c.Central.Apply(anydiff.NewConst(state), rows)
}

// recordedUpdate is one UpdateActor call.
type recordedUpdate struct {
	Model      marl.Model
	Batch      marl.Batch
	Advantages []float64
	Loss       float64
}

type updateRecorder struct {
	Updates []recordedUpdate
	Err     error
	Panic   bool
}

func (u *updateRecorder) Factory(m marl.Model, space marl.ActionSpace, b marl.Batch,
	adv anyvec.Vector) ActorUpdater {
	return &recordingUpdater{
		Recorder: u,
		Model:    m,
		Batch:    b,
		Adv:      adv,
	}
}

type recordingUpdater struct {
	Recorder *updateRecorder
	Model    marl.Model
	Batch    marl.Batch
	Adv      anyvec.Vector
}

func (r *recordingUpdater) UpdateActor(loss anydiff.Res) error {
	if r.Recorder.Panic {
		panic("update failed")
	}
	r.Recorder.Updates = append(r.Recorder.Updates, recordedUpdate{
		Model:      r.Model,
		Batch:      r.Batch,
		Advantages: vecData(r.Adv),
		Loss:       marl.Scalar(loss.Output()),
	})
	return r.Recorder.Err
}

func vec(data ...float64) anyvec.Vector {
	return anyvec.Make(testCreator, data)
}

func vecData(v anyvec.Vector) []float64 {
	return testCreator.Float64Slice(v.Data())
}

// oneHots encodes action indices for a two-action space.
func oneHots(actions ...int) anyvec.Vector {
	res := make([]float64, 2*len(actions))
	for i, a := range actions {
		res[2*i+a] = 1
	}
	return vec(res...)
}

// uniformLogProbs produces stored log probabilities such
// that a uniform two-action policy has the given
// importance ratios.
func uniformLogProbs(ratios ...float64) anyvec.Vector {
	res := make([]float64, len(ratios))
	for i, r := range ratios {
		res[i] = math.Log(0.5) - math.Log(r)
	}
	return vec(res...)
}

// singleAgentBatch creates a three-step batch with two
// observation features and two actions.
func singleAgentBatch(ratios ...float64) marl.Batch {
	return marl.Batch{
		marl.Obs:              vec(1, 0, 0, 1, 1, 1),
		marl.Actions:          oneHots(0, 1, 0),
		marl.ActionLogP:       uniformLogProbs(ratios...),
		marl.ActionDistInputs: vec(0, 0, 0, 0, 0, 0),
		marl.Advantages:       vec(1, 2, 3),
		marl.ValueTargets:     vec(1, 0, 2),
		marl.VFPreds:          vec(0, 0, 0),
	}
}

// addOpponent adds a namespaced copy of the agent's data
// to a joint batch.
func addOpponent(b marl.Batch, agent int, ref marl.ModelRef, ratios ...float64) {
	b[marl.AgentColumn(marl.Obs, agent)] = vec(0, 1, 1, 0, 1, 1)
	b[marl.AgentColumn(marl.Actions, agent)] = oneHots(1, 1, 0)
	b[marl.AgentColumn(marl.ActionLogP, agent)] = uniformLogProbs(ratios...)
	b[marl.AgentColumn(marl.ActionDistInputs, agent)] = vec(0, 0, 0, 0, 0, 0)
	b[marl.AgentColumn(marl.Training, agent)] = vec(1)
	b[marl.AgentColumn(marl.ModelColumn, agent)] = vec(float64(ref))
}

func fixedOrder(order ...int) func(n int) []int {
	return func(n int) []int {
		return append([]int{}, order...)
	}
}
