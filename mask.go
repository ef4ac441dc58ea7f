package marl

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrNoValidSteps is returned when a mean is requested
// over zero valid timesteps.
var ErrNoValidSteps = errors.New("no valid timesteps to average over")

// A Reducer averages a per-timestep quantity into a
// single-component result.
type Reducer interface {
	Mean(t anydiff.Res) (anydiff.Res, error)
}

// MeanReducer is a Reducer which averages every entry.
// It is used for feed-forward policies, where batches
// contain no padding.
type MeanReducer struct{}

// Mean computes the mean of all the components of t.
func (m MeanReducer) Mean(t anydiff.Res) (anydiff.Res, error) {
	n := t.Output().Len()
	if n == 0 {
		return nil, ErrNoValidSteps
	}
	c := t.Output().Creator()
	return anydiff.Scale(anydiff.Sum(t), c.MakeNumeric(1/float64(n))), nil
}

// SequenceMask marks the valid (non-padding) timesteps of
// a batch of zero-padded sequence segments.
type SequenceMask struct {
	// Valid has one entry per (segment, timestep) pair.
	Valid []bool

	// NumValid is the number of true entries in Valid.
	NumValid int

	indices []int
}

// NewSequenceMask creates a mask for segments of the given
// lengths, each padded to maxSeqLen.
//
// If timeMajor is false, entry b*maxSeqLen+t describes
// timestep t of segment b.
// Otherwise, entry t*len(seqLens)+b does.
func NewSequenceMask(seqLens []int, maxSeqLen int, timeMajor bool) *SequenceMask {
	numSeqs := len(seqLens)
	res := &SequenceMask{Valid: make([]bool, numSeqs*maxSeqLen)}
	for b, seqLen := range seqLens {
		seqLen = essentials.MinInt(seqLen, maxSeqLen)
		for t := 0; t < seqLen; t++ {
			if timeMajor {
				res.Valid[t*numSeqs+b] = true
			} else {
				res.Valid[b*maxSeqLen+t] = true
			}
		}
	}
	for i, v := range res.Valid {
		if v {
			res.indices = append(res.indices, i)
		}
	}
	res.NumValid = len(res.indices)
	return res
}

// Mean computes the mean of t over the valid entries.
//
// Padding entries are dropped rather than zeroed, so
// non-finite values in padding do not leak into the
// result.
func (s *SequenceMask) Mean(t anydiff.Res) (anydiff.Res, error) {
	if s.NumValid == 0 {
		return nil, ErrNoValidSteps
	}
	if t.Output().Len() != len(s.Valid) {
		panic("length mismatch")
	}
	c := t.Output().Creator()
	valid := anydiff.Map(c.MakeMapper(len(s.Valid), s.indices), t)
	return anydiff.Scale(anydiff.Sum(valid), c.MakeNumeric(1/float64(s.NumValid))), nil
}

// Vector converts the mask to a vector of ones and zeros.
func (s *SequenceMask) Vector(c anyvec.Creator) anyvec.Vector {
	data := make([]float64, len(s.Valid))
	for i, v := range s.Valid {
		if v {
			data[i] = 1
		}
	}
	return anyvec.Make(c, data)
}

// MakeReducer chooses the reducer for a batch with the
// given number of rows.
//
// Recurrent batches are masked using the SeqLens column,
// with every segment padded to rows/len(seqLens) steps.
// Other batches use a plain mean.
func MakeReducer(b Batch, rows int, recurrent, timeMajor bool) (Reducer, error) {
	if !recurrent {
		return MeanReducer{}, nil
	}
	seqLens, err := b.Ints(SeqLens)
	if err != nil {
		return nil, err
	}
	maxSeqLen := rows / len(seqLens)
	return NewSequenceMask(seqLens, maxSeqLen, timeMajor), nil
}
