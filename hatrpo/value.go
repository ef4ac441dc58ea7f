package hatrpo

import (
	"github.com/Joy1112/marl"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// CentralValue is a marl.ValueEstimator backed by a
// centralized critic, which sees the global state and
// optionally the joint actions of every agent.
type CentralValue struct {
	Critic marl.CentralCritic
	State  anyvec.Vector

	// JointActions is nil if opponent actions are not fed
	// to the critic.
	JointActions anyvec.Vector
}

// NewCentralValue creates a CentralValue for a batch.
//
// It returns nil if the model has no centralized critic or
// if the batch has no global state column.
// If oppActions is set, the batch must also carry the
// joint actions.
func NewCentralValue(m marl.Model, b marl.Batch, oppActions bool) (*CentralValue, error) {
	critic, ok := m.(marl.CentralCritic)
	if !ok || !b.Has(marl.GlobalState) {
		return nil, nil
	}
	res := &CentralValue{Critic: critic, State: b[marl.GlobalState]}
	if oppActions {
		joint, err := b.Column(marl.GlobalColumn(marl.Actions))
		if err != nil {
			return nil, err
		}
		res.JointActions = joint
	}
	return res, nil
}

// Value evaluates the critic.
func (c *CentralValue) Value() anydiff.Res {
	return c.Critic.CentralValue(c.State, c.JointActions)
}

// OverrideValue installs v as the model's value estimator
// for the duration of f.
//
// The previous estimator is restored when f returns, fails
// or panics.
// If v is nil, f is run without an override.
func OverrideValue(m marl.Model, v marl.ValueEstimator, f func() error) error {
	if v == nil {
		return f()
	}
	old := m.ValueEstimator()
	m.SetValueEstimator(v)
	defer m.SetValueEstimator(old)
	return f()
}
