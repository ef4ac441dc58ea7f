// Package marl provides the batch layout, action spaces,
// sequence masking and model plumbing shared by the
// multi-agent policy optimizers in this module.
//
// A joint Batch holds the acting agent's transitions under
// canonical column names, plus a namespaced copy of every
// other agent's data (see AgentColumn).
// Other agents' models are referenced from the batch by
// ModelRef handles, which a ModelRegistry resolves.
package marl
