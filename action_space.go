package marl

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Sampler samples from a parametric distribution.
//
// For an example, see Softmax.
type Sampler interface {
	// Sample samples a batch of vectors given a batch
	// of parameter vectors.
	Sample(params anyvec.Vector, batchSize int) anyvec.Vector
}

// A LogProber can compute the log-likelihood of a given
// output of a parametric distribution.
type LogProber interface {
	// LogProb produces, for each parameter-output pair
	// in the batch, a log-probability of the parameters
	// producing that output.
	//
	// For continuous distributions, this is the log of
	// the density rather than of the probability.
	LogProb(params anydiff.Res, output anyvec.Vector,
		batchSize int) anydiff.Res
}

// A KLer can compute the KL divergence between two
// batches of distributions given their parameters.
type KLer interface {
	// KL computes KL(params1 || params2) for every entry
	// in the batch, producing one value per entry.
	KL(params1, params2 anydiff.Res, batchSize int) anydiff.Res
}

// An Entropyer can compute the entropy of a parametric
// probability distribution.
type Entropyer interface {
	// Entropy computes the entropy (in nats) for each
	// parameter vector in a batch.
	Entropy(params anydiff.Res, batchSize int) anydiff.Res
}

// ActionSpace is the distribution class used by the
// policy optimizers: everything a loss needs to know
// about a parametric action distribution.
type ActionSpace interface {
	LogProber
	KLer
	Entropyer
}

// Softmax is an action space which applies the softmax
// function to obtain a categorical distribution.
// It produces one-hot vector samples.
type Softmax struct{}

// Sample samples one-hot vectors from the softmax
// distribution.
func (s Softmax) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	if params.Len()%batch != 0 {
		panic("batch size must divide parameter count")
	}

	chunkSize := params.Len() / batch
	p := params.Copy()
	anyvec.LogSoftmax(p, chunkSize)
	anyvec.Exp(p)

	probs := p.Creator().Float64Slice(p.Data())

	var oneHots []float64
	for i := 0; i < batch; i++ {
		oneHots = append(oneHots,
			sampleProbabilities(probs[i*chunkSize:(i+1)*chunkSize])...)
	}

	return anyvec.Make(p.Creator(), oneHots)
}

// LogProb computes the output log probabilities.
func (s Softmax) LogProb(params anydiff.Res, output anyvec.Vector,
	batchSize int) anydiff.Res {
	if params.Output().Len() != output.Len() {
		panic("length mismatch")
	}
	if params.Output().Len()%batchSize != 0 {
		panic("batch size does not divide param count")
	}
	chunkSize := params.Output().Len() / batchSize
	logs := anydiff.LogSoftmax(params, chunkSize)
	return batchedDot(logs, anydiff.NewConst(output), batchSize)
}

// KL computes the KL divergences between two batches of
// softmax distributions.
func (s Softmax) KL(params1, params2 anydiff.Res, batchSize int) anydiff.Res {
	if params1.Output().Len() != params2.Output().Len() {
		panic("length mismatch")
	}
	if params1.Output().Len()%batchSize != 0 {
		panic("batch size does not divide param count")
	}
	chunkSize := params1.Output().Len() / batchSize
	log1 := anydiff.LogSoftmax(params1, chunkSize)
	log2 := anydiff.LogSoftmax(params2, chunkSize)
	return anydiff.Pool(log1, func(log1 anydiff.Res) anydiff.Res {
		probs := anydiff.Exp(log1)
		diff := anydiff.Sub(log1, log2)
		return batchedDot(probs, diff, batchSize)
	})
}

// Entropy computes the entropy of the distributions.
func (s Softmax) Entropy(params anydiff.Res, batchSize int) anydiff.Res {
	chunkSize := params.Output().Len() / batchSize
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		logProbs := anydiff.LogSoftmax(params, chunkSize)
		probs := anydiff.Exp(logProbs)
		return anydiff.Scale(batchedDot(probs, logProbs, batchSize),
			params.Output().Creator().MakeNumeric(-1))
	})
}

// Gaussian is an action space for continuous actions.
// Each action component is drawn from an independent
// normal distribution.
//
// Parameter vectors are of the form
//
//	<mean1, logVar1, mean2, logVar2, ...>
//
// The variance is fed through exp so that the policy can
// output any real number.
type Gaussian struct{}

// Sample samples continuous values from the distribution.
func (g Gaussian) Sample(params anyvec.Vector, batchSize int) anyvec.Vector {
	c := params.Creator()
	data := c.Float64Slice(params.Data())
	res := make([]float64, len(data)/2)
	for i := range res {
		stddev := math.Exp(0.5 * data[2*i+1])
		res[i] = data[2*i] + rand.NormFloat64()*stddev
	}
	return anyvec.Make(c, res)
}

// LogProb computes the output log densities.
func (g Gaussian) LogProb(params anydiff.Res, output anyvec.Vector,
	batchSize int) anydiff.Res {
	c := output.Creator()
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		mean, logVariance := g.splitParams(params)
		diffs := anydiff.Square(anydiff.Sub(mean, anydiff.NewConst(output)))
		normalizedDiffs := anydiff.Scale(
			anydiff.Div(diffs, anydiff.Exp(logVariance)),
			c.MakeNumeric(-0.5),
		)
		// ln(1/sqrt(2*pi*s^2)) = -0.5*(ln(2*pi) + ln(s^2))
		logNorm := anydiff.Scale(
			anydiff.AddScalar(logVariance, c.MakeNumeric(math.Log(2*math.Pi))),
			c.MakeNumeric(-0.5),
		)
		return anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Add(logNorm, normalizedDiffs),
			Rows: batchSize,
			Cols: mean.Output().Len() / batchSize,
		})
	})
}

// KL computes the KL divergences between two batches of
// distributions.
func (g Gaussian) KL(params1, params2 anydiff.Res, batchSize int) anydiff.Res {
	c := params1.Output().Creator()
	return anydiff.Pool(params1, func(params1 anydiff.Res) anydiff.Res {
		return anydiff.Pool(params2, func(params2 anydiff.Res) anydiff.Res {
			mean1, logVar1 := g.splitParams(params1)
			mean2, logVar2 := g.splitParams(params2)
			var1 := anydiff.Exp(logVar1)
			var2 := anydiff.Exp(logVar2)
			// ((u1 - u2)^2 + s1^2 - s2^2) / (2*s2^2) + ln(s2/s1)
			perComponent := anydiff.Add(
				anydiff.Div(
					anydiff.Add(
						anydiff.Square(anydiff.Sub(mean1, mean2)),
						anydiff.Sub(var1, var2),
					),
					anydiff.Scale(var2, c.MakeNumeric(2)),
				),
				anydiff.Scale(anydiff.Sub(logVar2, logVar1), c.MakeNumeric(0.5)),
			)
			return anydiff.SumCols(&anydiff.Matrix{
				Data: perComponent,
				Rows: batchSize,
				Cols: mean1.Output().Len() / batchSize,
			})
		})
	})
}

// Entropy computes the differential entropy for each
// distribution in the batch.
// Components are independent, so their entropies add.
func (g Gaussian) Entropy(params anydiff.Res, batchSize int) anydiff.Res {
	c := params.Output().Creator()
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		_, logVariance := g.splitParams(params)
		return anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.AddScalar(
				anydiff.Scale(logVariance, c.MakeNumeric(0.5)),
				c.MakeNumeric(0.5*(1+math.Log(2*math.Pi))),
			),
			Rows: batchSize,
			Cols: logVariance.Output().Len() / batchSize,
		})
	})
}

func (g Gaussian) splitParams(params anydiff.Res) (mean, logVariance anydiff.Res) {
	halfLen := params.Output().Len() / 2
	mat := &anydiff.Matrix{Data: params, Rows: halfLen, Cols: 2}
	tr := anydiff.Transpose(mat)
	mean = anydiff.Slice(tr.Data, 0, halfLen)
	logVariance = anydiff.Slice(tr.Data, halfLen, halfLen*2)
	return
}

func batchedDot(vecs1, vecs2 anydiff.Res, batchSize int) anydiff.Res {
	products := anydiff.Mul(vecs1, vecs2)
	return anydiff.SumCols(&anydiff.Matrix{
		Data: products,
		Rows: batchSize,
		Cols: vecs1.Output().Len() / batchSize,
	})
}

// sampleProbabilities samples a one-hot vector from a
// list of index probabilities.
func sampleProbabilities(p []float64) []float64 {
	randNum := rand.Float64()
	idx := len(p) - 1
	for i, x := range p {
		randNum -= x
		if randNum < 0 {
			idx = i
			break
		}
	}
	oneHot := make([]float64, len(p))
	oneHot[idx] = 1
	return oneHot
}
