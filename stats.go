package marl

import (
	"math"

	"github.com/unixpickle/anyvec"
)

// DefaultNormalizeEpsilon is added to the standard
// deviation when normalizing advantages.
const DefaultNormalizeEpsilon = 1e-8

// Stats are the diagnostics of one loss computation.
type Stats struct {
	TotalLoss      float64
	MeanPolicyLoss float64
	MeanVFLoss     float64
	VFExplainedVar float64
	MeanEntropy    float64
	MeanKL         float64
}

// Map converts the stats to a metric-name mapping for
// metrics aggregators.
func (s *Stats) Map() map[string]float64 {
	return map[string]float64{
		"total_loss":       s.TotalLoss,
		"mean_policy_loss": s.MeanPolicyLoss,
		"mean_vf_loss":     s.MeanVFLoss,
		"vf_explained_var": s.VFExplainedVar,
		"mean_entropy":     s.MeanEntropy,
		"mean_kl_loss":     s.MeanKL,
	}
}

// NormalizeAdvantages produces a copy of the advantages
// with mean 0, divided by the sample standard deviation
// plus epsilon.
//
// If epsilon is 0, DefaultNormalizeEpsilon is used.
func NormalizeAdvantages(adv anyvec.Vector, epsilon float64) anyvec.Vector {
	if epsilon == 0 {
		epsilon = DefaultNormalizeEpsilon
	}
	c := adv.Creator()
	vals := c.Float64Slice(adv.Data())
	if len(vals) == 0 {
		return adv.Copy()
	}
	mean, variance := meanAndVariance(vals)
	var stddev float64
	if len(vals) > 1 {
		stddev = math.Sqrt(variance * float64(len(vals)) / float64(len(vals)-1))
	}
	normalizer := 1 / (stddev + epsilon)
	for i, x := range vals {
		vals[i] = (x - mean) * normalizer
	}
	return anyvec.Make(c, vals)
}

// ExplainedVariance measures how much of the variance in
// targets the predictions explain.
//
// The result is clipped below at -1, which is also the
// result for constant targets.
func ExplainedVariance(targets, preds anyvec.Vector) float64 {
	if targets.Len() != preds.Len() {
		panic("length mismatch")
	}
	c := targets.Creator()
	y := c.Float64Slice(targets.Data())
	if len(y) == 0 {
		return -1
	}
	p := c.Float64Slice(preds.Data())
	diffs := make([]float64, len(y))
	for i := range y {
		diffs[i] = y[i] - p[i]
	}
	_, yVar := meanAndVariance(y)
	_, diffVar := meanAndVariance(diffs)
	if yVar == 0 {
		return -1
	}
	return math.Max(-1, 1-diffVar/yVar)
}

// Scalar reads the single component of a vector as a
// float64.
func Scalar(v anyvec.Vector) float64 {
	if v.Len() != 1 {
		panic("expected a single component")
	}
	return v.Creator().Float64(anyvec.Sum(v))
}

func meanAndVariance(vals []float64) (mean, variance float64) {
	for _, x := range vals {
		mean += x
	}
	mean /= float64(len(vals))
	for _, x := range vals {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(vals))
	return
}
