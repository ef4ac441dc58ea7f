package hatrpo

import (
	"math"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Default settings for TrustRegion.
const (
	DefaultTargetKL        = 0.01
	DefaultLineSearchDecay = 0.8
	DefaultMaxLineSearch   = 15
	DefaultAcceptRatio     = 0.5
	DefaultConjGradIters   = 10
	DefaultDamping         = 0.1
	DefaultFisherStep      = 1e-4
)

// The residual at which conjugate gradients stops early.
const conjGradResidualTol = 1e-10

// An ActorUpdater performs one constrained improvement
// step on a single agent's policy.
type ActorUpdater interface {
	// UpdateActor steps the actor parameters in place.
	//
	// The loss is the agent's surrogate objective (the
	// mean importance-weighted advantage) before the step.
	UpdateActor(loss anydiff.Res) error
}

// An UpdaterFactory creates the ActorUpdater for one agent
// during one loss computation.
//
// The updater is bound to the agent's model, the action
// space, the agent's batch and the advantages the agent
// should improve on.
type UpdaterFactory func(m marl.Model, space marl.ActionSpace, b marl.Batch,
	adv anyvec.Vector) ActorUpdater

// TrustRegion is an ActorUpdater which takes a natural
// gradient step, scaled to a target KL divergence and
// refined by a backtracking line search.
//
// The surrogate objective is rebuilt from the model's own
// forward pass on Batch, which must contain the Actions
// and ActionLogP columns.
type TrustRegion struct {
	Model       marl.Model
	ActionSpace marl.ActionSpace
	Batch       marl.Batch
	Advantages  anyvec.Vector

	// TargetKL is the maximum mean KL divergence between
	// the policy before and after a step.
	//
	// If 0, DefaultTargetKL is used.
	TargetKL float64

	// LineSearchDecay is the factor by which the step
	// shrinks after each rejected line-search iteration.
	//
	// If 0, DefaultLineSearchDecay is used.
	LineSearchDecay float64

	// MaxLineSearch is the maximum number of line-search
	// iterations.
	// If no step is accepted, the parameters are left
	// unchanged.
	//
	// If 0, DefaultMaxLineSearch is used.
	MaxLineSearch int

	// AcceptRatio is the minimum ratio of actual to
	// expected improvement for a step to be accepted.
	//
	// If 0, DefaultAcceptRatio is used.
	AcceptRatio float64

	// Iters is the number of conjugate gradients
	// iterations.
	//
	// If 0, DefaultConjGradIters is used.
	Iters int

	// Damping is added to the diagonal of the Fisher
	// matrix.
	//
	// If 0, DefaultDamping is used.
	Damping float64

	// FisherStep is the length of the parameter
	// perturbation used to compute Fisher-vector products
	// by finite differences of the KL gradient.
	//
	// If 0, DefaultFisherStep is used.
	FisherStep float64

	// LogLineSearch is called after each iteration of the
	// line search.
	//
	// If nil, no logging is done.
	LogLineSearch func(meanKL, improvement float64)
}

// UpdateActor performs the trust-region step.
func (t *TrustRegion) UpdateActor(loss anydiff.Res) (err error) {
	defer essentials.AddCtxTo("trust region update", &err)

	params := t.Model.Parameters()
	if len(params) == 0 {
		return nil
	}
	baseline := marl.Scalar(loss.Output())

	s, err := t.newSurrogate()
	if err != nil {
		return err
	}
	objective, oldParams, err := s.Objective()
	if err != nil {
		return err
	}

	grad := anydiff.NewGrad(params...)
	c := params[0].Vector.Creator()
	objective.Propagate(anyvec.Ones(c, 1), grad)
	if dotGrad(grad, grad) == 0 {
		return nil
	}

	step, err := t.conjugateGradients(s, oldParams, grad)
	if err != nil {
		return err
	}
	fisherStep, err := t.applyFisher(s, oldParams, step)
	if err != nil {
		return err
	}
	shs := 0.5 * dotGrad(step, fisherStep)

	// The quadratic form might be non-positive due to
	// rounding errors.
	if shs <= 0 {
		return nil
	}
	scaleGrad(step, math.Sqrt(t.targetKL()/shs))
	expected := dotGrad(grad, step)

	backup := backupParams(params)
	fraction := 1.0
	for i := 0; i < t.maxLineSearch(); i++ {
		restoreParams(params, backup)
		addScaledGrad(step, fraction)

		newObjective, _, err := s.Objective()
		if err != nil {
			restoreParams(params, backup)
			return err
		}
		kl, err := s.MeanKL(oldParams)
		if err != nil {
			restoreParams(params, backup)
			return err
		}
		improvement := marl.Scalar(newObjective.Output()) - baseline
		meanKL := marl.Scalar(kl.Output())
		if t.LogLineSearch != nil {
			t.LogLineSearch(meanKL, improvement)
		}
		if meanKL < t.targetKL() && improvement > 0 &&
			improvement/(expected*fraction) > t.acceptRatio() {
			return nil
		}
		fraction *= t.lineSearchDecay()
	}

	restoreParams(params, backup)
	return nil
}

// conjugateGradients approximately solves Fx = grad for x,
// where F is the damped Fisher matrix.
//
// Algorithm taken from
// https://en.wikipedia.org/wiki/Conjugate_gradient_method#The_resulting_algorithm.
func (t *TrustRegion) conjugateGradients(s *surrogate, oldParams anydiff.Res,
	grad anydiff.Grad) (anydiff.Grad, error) {
	// x = 0
	x := zeroGrad(grad)

	// r = b - Ax = b
	residual := copyGrad(grad)

	// p = r
	proj := copyGrad(grad)

	residualMag := dotGrad(residual, residual)

	for i := 0; i < t.iters(); i++ {
		appliedProj, err := t.applyFisher(s, oldParams, proj)
		if err != nil {
			return nil, err
		}
		denom := dotGrad(proj, appliedProj)
		if denom <= 0 {
			break
		}
		alpha := residualMag / denom

		// x = x + alpha*p
		addScaledTo(x, proj, alpha)

		// r = r - alpha*A*p
		addScaledTo(residual, appliedProj, -alpha)

		newResidualMag := dotGrad(residual, residual)
		if newResidualMag < conjGradResidualTol {
			break
		}
		beta := newResidualMag / residualMag
		residualMag = newResidualMag

		// p = r + beta*p
		scaleGrad(proj, beta)
		addScaledTo(proj, residual, 1)
	}

	return x, nil
}

// applyFisher computes a damped Fisher-vector product.
//
// The Fisher matrix is the Hessian of the KL divergence
// from the old policy, which is approximated by a central
// difference of KL gradients along v.
func (t *TrustRegion) applyFisher(s *surrogate, oldParams anydiff.Res,
	v anydiff.Grad) (anydiff.Grad, error) {
	res := zeroGrad(v)
	norm := math.Sqrt(dotGrad(v, v))
	if norm == 0 {
		return res, nil
	}
	h := t.fisherStep() / norm

	params := gradVars(v)
	backup := backupParams(params)
	defer restoreParams(params, backup)

	for _, sign := range []float64{1, -1} {
		restoreParams(params, backup)
		addScaledGrad(v, sign*h)
		klGrad, err := s.KLGrad(oldParams, params)
		if err != nil {
			return nil, err
		}
		addScaledTo(res, klGrad, sign/(2*h))
	}
	addScaledTo(res, v, t.damping())

	return res, nil
}

func (t *TrustRegion) newSurrogate() (*surrogate, error) {
	actions, err := t.Batch.Column(marl.Actions)
	if err != nil {
		return nil, err
	}
	oldLogProbs, err := t.Batch.Column(marl.ActionLogP)
	if err != nil {
		return nil, err
	}
	return &surrogate{
		Model:       t.Model,
		ActionSpace: t.ActionSpace,
		Batch:       t.Batch,
		Actions:     actions,
		OldLogProbs: oldLogProbs,
		Advantages:  t.Advantages,
	}, nil
}

func (t *TrustRegion) targetKL() float64 {
	if t.TargetKL == 0 {
		return DefaultTargetKL
	} else {
		return t.TargetKL
	}
}

func (t *TrustRegion) lineSearchDecay() float64 {
	if t.LineSearchDecay == 0 {
		return DefaultLineSearchDecay
	} else {
		return t.LineSearchDecay
	}
}

func (t *TrustRegion) maxLineSearch() int {
	if t.MaxLineSearch == 0 {
		return DefaultMaxLineSearch
	} else {
		return t.MaxLineSearch
	}
}

func (t *TrustRegion) acceptRatio() float64 {
	if t.AcceptRatio == 0 {
		return DefaultAcceptRatio
	} else {
		return t.AcceptRatio
	}
}

func (t *TrustRegion) iters() int {
	if t.Iters == 0 {
		return DefaultConjGradIters
	} else {
		return t.Iters
	}
}

func (t *TrustRegion) damping() float64 {
	if t.Damping == 0 {
		return DefaultDamping
	} else {
		return t.Damping
	}
}

func (t *TrustRegion) fisherStep() float64 {
	if t.FisherStep == 0 {
		return DefaultFisherStep
	} else {
		return t.FisherStep
	}
}

// surrogate evaluates the importance-weighted advantage
// objective and the KL constraint at the model's current
// parameters.
type surrogate struct {
	Model       marl.Model
	ActionSpace marl.ActionSpace
	Batch       marl.Batch
	Actions     anyvec.Vector
	OldLogProbs anyvec.Vector
	Advantages  anyvec.Vector
}

// Objective computes the surrogate objective and returns
// a frozen copy of the current action parameters.
func (s *surrogate) Objective() (anydiff.Res, anydiff.Res, error) {
	out, reducer, err := s.apply()
	if err != nil {
		return nil, nil, err
	}
	rows := s.OldLogProbs.Len()
	ratio := anydiff.Exp(anydiff.Sub(
		s.ActionSpace.LogProb(out.ActionParams, s.Actions, rows),
		anydiff.NewConst(s.OldLogProbs),
	))
	obj, err := reducer.Mean(anydiff.Mul(ratio, anydiff.NewConst(s.Advantages)))
	if err != nil {
		return nil, nil, err
	}
	return obj, anydiff.NewConst(out.ActionParams.Output().Copy()), nil
}

// MeanKL computes the mean KL divergence from the frozen
// old parameters to the current policy.
func (s *surrogate) MeanKL(oldParams anydiff.Res) (anydiff.Res, error) {
	out, reducer, err := s.apply()
	if err != nil {
		return nil, err
	}
	rows := s.OldLogProbs.Len()
	return reducer.Mean(s.ActionSpace.KL(oldParams, out.ActionParams, rows))
}

// KLGrad computes the gradient of MeanKL.
func (s *surrogate) KLGrad(oldParams anydiff.Res, params []*anydiff.Var) (anydiff.Grad, error) {
	kl, err := s.MeanKL(oldParams)
	if err != nil {
		return nil, err
	}
	grad := anydiff.NewGrad(params...)
	kl.Propagate(anyvec.Ones(kl.Output().Creator(), 1), grad)
	return grad, nil
}

func (s *surrogate) apply() (*marl.PolicyOut, marl.Reducer, error) {
	out, err := s.Model.Apply(s.Batch)
	if err != nil {
		return nil, nil, err
	}
	reducer, err := marl.MakeReducer(s.Batch, s.OldLogProbs.Len(), len(out.State) > 0,
		marl.IsTimeMajor(s.Model))
	if err != nil {
		return nil, nil, err
	}
	return out, reducer, nil
}
