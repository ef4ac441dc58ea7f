package hatrpo

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for k, v := range g {
		res[k] = v.Copy()
	}
	return res
}

func zeroGrad(g anydiff.Grad) anydiff.Grad {
	res := copyGrad(g)
	res.Clear()
	return res
}

func dotGrad(g1, g2 anydiff.Grad) float64 {
	var sum float64
	for variable, grad := range g1 {
		sum += grad.Creator().Float64(grad.Dot(g2[variable]))
	}
	return sum
}

func gradNorm(g anydiff.Grad) float64 {
	return math.Sqrt(dotGrad(g, g))
}

func scaleGrad(g anydiff.Grad, scale float64) {
	for _, v := range g {
		v.Scale(v.Creator().MakeNumeric(scale))
	}
}

// addScaledTo computes dst += scale*src.
func addScaledTo(dst, src anydiff.Grad, scale float64) {
	for variable, dstVec := range dst {
		s := src[variable].Copy()
		s.Scale(s.Creator().MakeNumeric(scale))
		dstVec.Add(s)
	}
}

// addScaledGrad steps the variables of g by scale*g.
func addScaledGrad(g anydiff.Grad, scale float64) {
	for variable, v := range g {
		s := v.Copy()
		s.Scale(s.Creator().MakeNumeric(scale))
		variable.Vector.Add(s)
	}
}

func gradVars(g anydiff.Grad) []*anydiff.Var {
	res := make([]*anydiff.Var, 0, len(g))
	for variable := range g {
		res = append(res, variable)
	}
	return res
}

func backupParams(params []*anydiff.Var) []anyvec.Vector {
	res := make([]anyvec.Vector, len(params))
	for i, p := range params {
		res[i] = p.Vector.Copy()
	}
	return res
}

func restoreParams(params []*anydiff.Var, backup []anyvec.Vector) {
	for i, p := range params {
		p.Vector.Set(backup[i])
	}
}
