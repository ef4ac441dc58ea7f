// Package hatrpo implements heterogeneous-agent trust
// region policy optimization.
//
// In each training step, the agents sharing a joint batch
// are updated one at a time in a random order.
// Every agent takes a trust-region step on an advantage
// which has been re-weighted by the importance ratios of
// the agents updated before it, so that the joint policy
// improves monotonically.
//
// Opponent models are referenced from batches through a
// marl.ModelRegistry rather than stored directly.
package hatrpo
