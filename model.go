package marl

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// PolicyOut is the result of applying a policy to a
// batch.
type PolicyOut struct {
	// ActionParams contains one parameter vector for the
	// action space per batch row.
	ActionParams anydiff.Res

	// State is the recurrent state after the batch.
	// It is empty for feed-forward policies.
	State []anyvec.Vector
}

// A ValueEstimator produces one value estimate per row of
// the batch most recently fed to a Model.
//
// Implementations should be pointers, so that estimators
// can be compared for identity.
type ValueEstimator interface {
	Value() anydiff.Res
}

// A Model is an agent's policy (and critic) as seen by a
// policy optimizer.
//
// The Parameters method lists the actor parameters which
// a trust-region update may step.
type Model interface {
	anynet.Parameterizer

	// Apply runs the policy on a batch.
	Apply(b Batch) (*PolicyOut, error)

	// ValueEstimator returns the current value function.
	ValueEstimator() ValueEstimator

	// SetValueEstimator swaps the value function.
	SetValueEstimator(v ValueEstimator)
}

// A CentralCritic is a Model which can estimate values from
// the global state and, optionally, the joint actions of
// every agent.
//
// jointActions is nil when opponent actions are not fed to
// the critic.
type CentralCritic interface {
	CentralValue(state, jointActions anyvec.Vector) anydiff.Res
}

// A TimeMajorer is a Model which lays out padded sequence
// batches time-major rather than batch-major.
type TimeMajorer interface {
	TimeMajor() bool
}

// A StatsRecorder is a Model which keeps the diagnostics of
// its latest loss computation.
type StatsRecorder interface {
	RecordStats(s *Stats)
}

// IsTimeMajor checks if a model uses time-major batches.
func IsTimeMajor(m Model) bool {
	if tm, ok := m.(TimeMajorer); ok {
		return tm.TimeMajor()
	}
	return false
}
