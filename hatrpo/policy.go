package hatrpo

import (
	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Policy ties a model to its loss, coefficient schedules
// and critic optimizer.
//
// The actors are stepped by the trust-region updaters
// inside the loss; the critic is trained by gradient
// descent on the total loss.
type Policy struct {
	Model marl.Model
	Loss  *Loss

	// Critic lists the value-function parameters.
	Critic []*anydiff.Var

	// Transformer, if non-nil, transforms critic gradients
	// before each step.
	Transformer anysgd.Transformer

	// StepSize is the critic step size.
	StepSize float64

	// GradClip is the maximum critic gradient norm, or 0
	// for no clipping.
	GradClip float64

	// Entropy, if non-nil, schedules the entropy
	// coefficient of Loss.
	Entropy *Schedule

	// KL, if non-nil, adapts the KL coefficient of Loss
	// after every step.
	// It is fed the KL divergence from the batch's action
	// distributions to the policy after the actor steps.
	KL *KLController
}

// NewPolicy creates a Policy from a Config.
//
// The critic is optimized with Adam.
func NewPolicy(cfg *Config, model marl.Model, critic []*anydiff.Var,
	space marl.ActionSpace, registry *marl.ModelRegistry) *Policy {
	return &Policy{
		Model:       model,
		Loss:        cfg.Loss(space, registry),
		Critic:      critic,
		Transformer: &anysgd.Adam{},
		StepSize:    cfg.CriticStepSize,
		GradClip:    cfg.GradClip,
		Entropy:     NewSchedule(cfg.EntropyCoeff, cfg.EntropyCoeffSchedule),
		KL:          &KLController{Coeff: cfg.KLCoeff, Target: cfg.KLTarget},
	}
}

// Learn runs one training step on a batch collected at
// the given global timestep.
func (p *Policy) Learn(batch marl.Batch, timestep int64) (stats *marl.Stats, err error) {
	defer essentials.AddCtxTo("learn", &err)

	if p.Entropy != nil {
		p.Loss.EntropyCoeff = p.Entropy.Value(timestep)
	}
	if p.KL != nil {
		p.Loss.KLCoeff = p.KL.Coeff
	}

	total, stats, err := p.Loss.Compute(p.Model, batch)
	if err != nil {
		return nil, err
	}

	if len(p.Critic) > 0 {
		c := total.Output().Creator()
		grad := anydiff.NewGrad(p.Critic...)
		total.Propagate(anyvec.Ones(c, 1), grad)
		ClipGrad(grad, p.GradClip)
		if p.Transformer != nil {
			grad = p.Transformer.Transform(grad)
		}
		grad.Scale(c.MakeNumeric(-p.StepSize))
		grad.AddToVars()
	}

	if p.KL != nil {
		kl, err := p.SampledKL(batch)
		if err != nil {
			return nil, err
		}
		p.KL.Update(kl)
	}
	return stats, nil
}

// SampledKL measures the mean KL divergence from the
// action distributions stored in a batch to the current
// policy, ignoring padding.
func (p *Policy) SampledKL(batch marl.Batch) (float64, error) {
	oldParams, err := batch.Column(marl.ActionDistInputs)
	if err != nil {
		return 0, err
	}
	oldLogProbs, err := batch.Column(marl.ActionLogP)
	if err != nil {
		return 0, err
	}
	out, err := p.Model.Apply(batch)
	if err != nil {
		return 0, err
	}
	rows := oldLogProbs.Len()
	reducer, err := marl.MakeReducer(batch, rows, len(out.State) > 0, marl.IsTimeMajor(p.Model))
	if err != nil {
		return 0, err
	}
	kl, err := reducer.Mean(p.Loss.ActionSpace.KL(anydiff.NewConst(oldParams),
		out.ActionParams, rows))
	if err != nil {
		return 0, err
	}
	return marl.Scalar(kl.Output()), nil
}
