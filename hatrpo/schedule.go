package hatrpo

import (
	"github.com/unixpickle/anydiff"
	"golang.org/x/exp/slices"
)

// A SchedulePoint pins a scheduled value at a timestep.
type SchedulePoint struct {
	Timestep int64
	Value    float64
}

// Schedule is a piecewise-linear schedule for a
// coefficient, such as the entropy bonus.
type Schedule struct {
	// Initial is used when there are no Points.
	Initial float64

	// Points must be sorted by timestep.
	// Between two points the value is interpolated
	// linearly; outside of them, the value of the last
	// point is held.
	Points []SchedulePoint
}

// NewSchedule creates a schedule from (timestep, value)
// pairs, as found in a Config.
func NewSchedule(initial float64, pairs [][]float64) *Schedule {
	res := &Schedule{Initial: initial}
	for _, p := range pairs {
		res.Points = append(res.Points, SchedulePoint{Timestep: int64(p[0]), Value: p[1]})
	}
	slices.SortStableFunc(res.Points, func(p1, p2 SchedulePoint) bool {
		return p1.Timestep < p2.Timestep
	})
	return res
}

// Value computes the scheduled value at a timestep.
func (s *Schedule) Value(timestep int64) float64 {
	if len(s.Points) == 0 {
		return s.Initial
	}
	for i := 0; i+1 < len(s.Points); i++ {
		left, right := s.Points[i], s.Points[i+1]
		if left.Timestep <= timestep && timestep < right.Timestep {
			frac := float64(timestep-left.Timestep) / float64(right.Timestep-left.Timestep)
			return left.Value + frac*(right.Value-left.Value)
		}
	}
	return s.Points[len(s.Points)-1].Value
}

// KLController adapts the coefficient of the KL penalty to
// keep the sampled KL divergence near a target.
type KLController struct {
	Coeff  float64
	Target float64
}

// Update adjusts the coefficient given the mean KL of the
// latest step and returns the new coefficient.
func (k *KLController) Update(sampledKL float64) float64 {
	if sampledKL > 2*k.Target {
		k.Coeff *= 1.5
	} else if sampledKL < 0.5*k.Target {
		k.Coeff *= 0.5
	}
	return k.Coeff
}

// ClipGrad scales a gradient down so that its global norm
// is at most maxNorm.
//
// It returns the norm before clipping.
// If maxNorm is not positive, the gradient is untouched.
func ClipGrad(grad anydiff.Grad, maxNorm float64) float64 {
	norm := gradNorm(grad)
	if maxNorm > 0 && norm > maxNorm {
		scaleGrad(grad, maxNorm/norm)
	}
	return norm
}
