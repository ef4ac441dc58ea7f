package marl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// softmaxParams holds two three-way distributions.
var softmaxParams = []float64{
	0.0902265411093121, -1.1492330740032015, -0.7417678904738725,
	0.1571149104608501, -1.3123382994428667, 1.2192607242291933,
}

func TestSoftmaxSample(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params := anyvec.Make(c, softmaxParams)
	probs := params.Copy()
	anyvec.LogSoftmax(probs, 3)
	anyvec.Exp(probs)

	const numSamples = 100000
	frequencies := c.MakeVector(params.Len())
	for i := 0; i < numSamples; i++ {
		frequencies.Add(Softmax{}.Sample(params, 2))
	}
	frequencies.Scale(c.MakeNumeric(1.0 / numSamples))

	assertSimilar(t, frequencies, probs)
}

func TestSoftmaxLogProb(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params := anyvec.Make(c, softmaxParams)
	actions := anyvec.Make(c, []float64{0, 1, 0, 0, 0, 1})

	logProbs := Softmax{}.LogProb(anydiff.NewConst(params), actions, 2).Output()
	expected := anyvec.Make(c, []float64{
		logSoftmaxEntry(softmaxParams[:3], 1),
		logSoftmaxEntry(softmaxParams[3:], 2),
	})
	assertSimilar(t, logProbs, expected)
}

func TestSoftmaxKL(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	other := anyvec.Make(c, []float64{
		0.9313885780497441, -1.9309617520360562, 1.2151486203602158,
		0.6612636577085984, 0.3235493283220768, -0.0906927932047284,
	})
	kl := Softmax{}.KL(anydiff.NewConst(anyvec.Make(c, softmaxParams)),
		anydiff.NewConst(other), 2).Output()
	assertSimilar(t, kl, anyvec.Make(c, []float64{0.315157204359214, 0.574736163236784}))

	self := Softmax{}.KL(anydiff.NewConst(other), anydiff.NewConst(other), 2).Output()
	assertSimilar(t, self, c.MakeVector(2))
}

func TestSoftmaxEntropy(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	entropy := Softmax{}.Entropy(anydiff.NewConst(anyvec.Make(c, softmaxParams)), 2).Output()
	assertSimilar(t, entropy, anyvec.Make(c, []float64{0.963070145433149, 0.753250756925369}))
}

func logSoftmaxEntry(logits []float64, idx int) float64 {
	var sum float64
	for _, x := range logits {
		sum += math.Exp(x)
	}
	return logits[idx] - math.Log(sum)
}

func TestGaussianLogProb(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	// Two rows, one component each: N(0.5, e^0) and N(-1, e^1).
	params := c.MakeVectorData([]float64{0.5, 0, -1, 1})
	sampled := c.MakeVectorData([]float64{1, 0})

	actual := Gaussian{}.LogProb(anydiff.NewConst(params), sampled, 2).Output()
	expected := c.MakeVectorData([]float64{
		gaussianLogDensity(1, 0.5, 1),
		gaussianLogDensity(0, -1, math.E),
	})

	assertSimilar(t, actual, expected)
}

func TestGaussianKL(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params1 := c.MakeVectorData([]float64{0.5, 0, -1, 1})
	params2 := c.MakeVectorData([]float64{0, 0.5, -1, 1})

	actual := Gaussian{}.KL(anydiff.NewConst(params1), anydiff.NewConst(params2),
		2).Output()

	v1, v2 := 1.0, math.Exp(0.5)
	first := (0.25+v1-v2)/(2*v2) + 0.5*(0.5-0)
	expected := c.MakeVectorData([]float64{first, 0})

	assertSimilar(t, actual, expected)
}

func TestGaussianEntropy(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params := c.MakeVectorData([]float64{3, 0, 1, 2, -2, math.Log(4)})

	// One row with two components, one row with one.
	actual := Gaussian{}.Entropy(anydiff.NewConst(params), 1).Output()
	perComp := func(variance float64) float64 {
		return 0.5 * math.Log(2*math.Pi*math.E*variance)
	}
	expected := c.MakeVectorData([]float64{
		perComp(1) + perComp(math.Exp(2)) + perComp(4),
	})

	assertSimilar(t, actual, expected)
}

func gaussianLogDensity(x, mean, variance float64) float64 {
	return -0.5*math.Log(2*math.Pi*variance) - (x-mean)*(x-mean)/(2*variance)
}

func assertSimilar(t *testing.T, actual, expected anyvec.Vector) {
	t.Helper()
	assert.InDeltaSlice(t, expected.Data(), actual.Data(), 1e-2)
}
