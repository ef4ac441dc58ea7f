package hatrpo

import (
	"errors"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

var errMissingValue = errors.New("critic enabled but model has no value estimator")

// Loss computes the training objective of one agent's
// policy, stepping every actor along the way.
//
// If the batch references opponent models, all the agents
// are updated sequentially (see Sequential).
// Otherwise, the acting agent alone takes a trust-region
// step on normalized advantages.
type Loss struct {
	ActionSpace marl.ActionSpace

	// Registry resolves opponent model references.
	Registry *marl.ModelRegistry

	// NewUpdater creates the per-agent actor updaters.
	NewUpdater UpdaterFactory

	// NumAgents is the number of agents, including the
	// acting agent.
	NumAgents int

	// UseCritic enables the value loss.
	UseCritic bool

	// OppActionInCC feeds the joint actions to a
	// centralized critic.
	OppActionInCC bool

	VFClipParam  float64
	VFLossCoeff  float64
	KLCoeff      float64
	EntropyCoeff float64

	// Permute, if non-nil, replaces rand.Perm for choosing
	// the update order.
	Permute func(n int) []int

	// Logger, if non-nil, logs updates and stats.
	Logger Logger
}

// Compute applies the model, updates the actors and
// produces the total loss to minimize along with its
// diagnostics.
//
// If the model has a centralized critic and the batch has
// a global state, the centralized value is used for the
// duration of the call.
// The model's value estimator is restored before Compute
// returns, whether or not it succeeds.
func (l *Loss) Compute(model marl.Model, batch marl.Batch) (total anydiff.Res,
	stats *marl.Stats, err error) {
	defer essentials.AddCtxTo("hatrpo loss", &err)

	out, err := model.Apply(batch)
	if err != nil {
		return nil, nil, err
	}
	if _, err := batch.Column(marl.ActionDistInputs); err != nil {
		return nil, nil, err
	}
	oldLogProbs, err := batch.Column(marl.ActionLogP)
	if err != nil {
		return nil, nil, err
	}
	rows := oldLogProbs.Len()
	reducer, err := marl.MakeReducer(batch, rows, len(out.State) > 0, marl.IsTimeMajor(model))
	if err != nil {
		return nil, nil, err
	}

	central, err := NewCentralValue(model, batch, l.OppActionInCC)
	if err != nil {
		return nil, nil, err
	}
	var estimator marl.ValueEstimator
	if central != nil {
		estimator = central
	}

	err = OverrideValue(model, estimator, func() error {
		var value anydiff.Res
		if v := model.ValueEstimator(); v != nil {
			value = v.Value()
		}

		policyLoss, err := l.policyLoss(model, batch, out, reducer)
		if err != nil {
			return err
		}

		total, stats, err = l.aggregate(batch, out, value, policyLoss, reducer, rows)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if recorder, ok := model.(marl.StatsRecorder); ok {
		recorder.RecordStats(stats)
	}
	if l.Logger != nil {
		l.Logger.LogStats(stats)
	}
	return total, stats, nil
}

func (l *Loss) policyLoss(model marl.Model, batch marl.Batch, out *marl.PolicyOut,
	reducer marl.Reducer) (anydiff.Res, error) {
	opponents, err := Opponents(batch, l.numAgents())
	if err != nil {
		return nil, err
	}
	if len(opponents) > 0 {
		seq := &Sequential{
			NumAgents:   l.numAgents(),
			ActionSpace: l.ActionSpace,
			Registry:    l.Registry,
			NewUpdater:  l.NewUpdater,
			Permute:     l.Permute,
			Logger:      l.Logger,
		}
		return seq.Run(model, batch, out, reducer)
	}
	return l.singleAgentLoss(model, batch, out, reducer)
}

func (l *Loss) singleAgentLoss(model marl.Model, batch marl.Batch, out *marl.PolicyOut,
	reducer marl.Reducer) (anydiff.Res, error) {
	rawAdv, err := batch.Column(marl.Advantages)
	if err != nil {
		return nil, err
	}
	actions, err := batch.Column(marl.Actions)
	if err != nil {
		return nil, err
	}
	oldLogProbs, err := batch.Column(marl.ActionLogP)
	if err != nil {
		return nil, err
	}
	adv := marl.NormalizeAdvantages(rawAdv, 0)

	ratio := anydiff.Exp(anydiff.Sub(
		l.ActionSpace.LogProb(out.ActionParams, actions, oldLogProbs.Len()),
		anydiff.NewConst(oldLogProbs),
	))
	loss, err := reducer.Mean(anydiff.Mul(ratio, anydiff.NewConst(adv)))
	if err != nil {
		return nil, err
	}
	if l.Logger != nil {
		l.Logger.LogAgentUpdate(l.numAgents()-1, marl.Scalar(loss.Output()))
	}
	updater := l.NewUpdater(model, l.ActionSpace, batch, adv)
	if err := updater.UpdateActor(loss); err != nil {
		return nil, err
	}
	return loss, nil
}

// aggregate combines the policy loss with the value loss,
// the KL penalty and the entropy bonus.
func (l *Loss) aggregate(batch marl.Batch, out *marl.PolicyOut, value, policyLoss anydiff.Res,
	reducer marl.Reducer, rows int) (anydiff.Res, *marl.Stats, error) {
	c := out.ActionParams.Output().Creator()
	stats := &marl.Stats{VFExplainedVar: -1}

	vfLoss := anydiff.Res(anydiff.NewConst(c.MakeVector(rows)))
	if l.UseCritic {
		if value == nil {
			return nil, nil, errMissingValue
		}
		targets, err := batch.Column(marl.ValueTargets)
		if err != nil {
			return nil, nil, err
		}
		oldPreds, err := batch.Column(marl.VFPreds)
		if err != nil {
			return nil, nil, err
		}
		vfLoss = ValueLoss(value, targets, oldPreds, l.VFClipParam)
		meanVF, err := reducer.Mean(vfLoss)
		if err != nil {
			return nil, nil, err
		}
		stats.MeanVFLoss = marl.Scalar(meanVF.Output())
	}
	if value != nil && batch.Has(marl.ValueTargets) &&
		value.Output().Len() == batch[marl.ValueTargets].Len() {
		stats.VFExplainedVar = marl.ExplainedVariance(batch[marl.ValueTargets], value.Output())
	}

	kl := l.ActionSpace.KL(anydiff.NewConst(batch[marl.ActionDistInputs]), out.ActionParams, rows)
	entropy := l.ActionSpace.Entropy(out.ActionParams, rows)

	meanKL, err := reducer.Mean(kl)
	if err != nil {
		return nil, nil, err
	}
	meanEntropy, err := reducer.Mean(entropy)
	if err != nil {
		return nil, nil, err
	}

	penalties, err := reducer.Mean(anydiff.Add(
		anydiff.Add(
			anydiff.Scale(kl, c.MakeNumeric(l.KLCoeff)),
			anydiff.Scale(vfLoss, c.MakeNumeric(l.VFLossCoeff)),
		),
		anydiff.Scale(entropy, c.MakeNumeric(-l.EntropyCoeff)),
	))
	if err != nil {
		return nil, nil, err
	}
	total := anydiff.Sub(penalties, policyLoss)

	stats.TotalLoss = marl.Scalar(total.Output())
	stats.MeanPolicyLoss = -marl.Scalar(policyLoss.Output())
	stats.MeanEntropy = marl.Scalar(meanEntropy.Output())
	stats.MeanKL = marl.Scalar(meanKL.Output())
	return total, stats, nil
}

func (l *Loss) numAgents() int {
	return essentials.MaxInt(l.NumAgents, 1)
}

// ValueLoss computes the clipped value loss for each row:
//
//	max((V-T)^2, (V_old + clip(V-V_old, -eps, eps) - T)^2)
func ValueLoss(value anydiff.Res, targets, oldPreds anyvec.Vector, eps float64) anydiff.Res {
	c := targets.Creator()
	t := anydiff.NewConst(targets)
	old := anydiff.NewConst(oldPreds)
	return anydiff.Pool(value, func(value anydiff.Res) anydiff.Res {
		unclipped := anydiff.Square(anydiff.Sub(value, t))
		clipped := anydiff.Add(
			anydiff.ClipRange(anydiff.Sub(value, old), c.MakeNumeric(-eps), c.MakeNumeric(eps)),
			old,
		)
		return anydiff.ElemMax(unclipped, anydiff.Square(anydiff.Sub(clipped, t)))
	})
}
