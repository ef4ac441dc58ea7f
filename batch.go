package marl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/unixpickle/anyvec"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Canonical column names.
const (
	Obs              = "obs"
	Actions          = "actions"
	ActionLogP       = "action_logp"
	ActionDistInputs = "action_dist_inputs"
	Advantages       = "advantages"
	ValueTargets     = "value_targets"
	VFPreds          = "vf_preds"
	SeqLens          = "seq_lens"
	Training         = "is_training"
	GlobalState      = "state"
	ModelColumn      = "model"
)

var agentModelPattern = regexp.MustCompile(`^agent_(\d+)_` + ModelColumn + `$`)

// AgentColumn namespaces a column for another agent in a
// joint batch.
func AgentColumn(col string, agent int) string {
	return "agent_" + strconv.Itoa(agent) + "_" + col
}

// GlobalColumn names a column holding joint data for all
// agents, such as the joint actions fed to a centralized
// critic.
func GlobalColumn(col string) string {
	return "global_" + col
}

// StateSlot names the i-th recurrent state column.
func StateSlot(i int) string {
	return "state_in_" + strconv.Itoa(i)
}

// AgentStateSlot names the i-th recurrent state column of
// another agent.
func AgentStateSlot(i, agent int) string {
	return AgentColumn(StateSlot(i), agent)
}

// MissingColumnError is returned when a batch lacks a
// column that its producer promised.
type MissingColumnError struct {
	Name string
}

func (m *MissingColumnError) Error() string {
	return "missing batch column: " + m.Name
}

// A Batch maps column names to flattened columns.
//
// A joint batch holds the acting agent's transitions under
// the canonical names and, for every other agent i, a
// parallel set of columns named by AgentColumn.
type Batch map[string]anyvec.Vector

// Has checks if the column exists and is non-empty.
func (b Batch) Has(name string) bool {
	v, ok := b[name]
	return ok && v.Len() > 0
}

// Column returns a non-empty column.
func (b Batch) Column(name string) (anyvec.Vector, error) {
	if !b.Has(name) {
		return nil, &MissingColumnError{Name: name}
	}
	return b[name], nil
}

// Flag reads the first entry of a boolean column.
func (b Batch) Flag(name string) (bool, error) {
	v, err := b.Column(name)
	if err != nil {
		return false, err
	}
	return firstComponent(v) != 0, nil
}

// Ints reads a column of integers, such as sequence
// lengths.
func (b Batch) Ints(name string) ([]int, error) {
	v, err := b.Column(name)
	if err != nil {
		return nil, err
	}
	data := v.Creator().Float64Slice(v.Data())
	res := make([]int, len(data))
	for i, x := range data {
		res[i] = int(x)
	}
	return res, nil
}

// ModelRef reads the model reference stored for another
// agent.
// It returns 0 if the column is absent or empty.
//
// Columns should be written with ModelRef.Column, which
// refuses references the creator would round.
func (b Batch) ModelRef(agent int) ModelRef {
	name := AgentColumn(ModelColumn, agent)
	if !b.Has(name) {
		return 0
	}
	return ModelRef(firstComponent(b[name]))
}

// AgentIDs lists, in ascending order, every agent with a
// model column in the batch, whether or not the column is
// populated.
func (b Batch) AgentIDs() []int {
	var res []int
	for _, key := range maps.Keys(b) {
		match := agentModelPattern.FindStringSubmatch(key)
		if match == nil {
			continue
		}
		id, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

// HasAgentData checks if any non-empty column other than
// the model reference is namespaced for the agent.
func (b Batch) HasAgentData(agent int) bool {
	prefix := AgentColumn("", agent)
	modelName := AgentColumn(ModelColumn, agent)
	for key, v := range b {
		if key != modelName && strings.HasPrefix(key, prefix) && v.Len() > 0 {
			return true
		}
	}
	return false
}

// Copy creates a shallow copy of the batch.
// The columns themselves are shared.
func (b Batch) Copy() Batch {
	return maps.Clone(b)
}

// String summarizes the column names and lengths.
func (b Batch) String() string {
	keys := maps.Keys(b)
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s[%d]", k, b[k].Len())
	}
	return "Batch{" + strings.Join(parts, " ") + "}"
}

func firstComponent(v anyvec.Vector) float64 {
	return v.Creator().Float64(anyvec.Sum(v.Slice(0, 1)))
}
