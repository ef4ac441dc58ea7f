package marl

// GAE uses Generalized Advantage Estimation to judge the
// actions of one episode given the critic's value
// estimates.
//
// For more on GAE, see: https://arxiv.org/abs/1506.02438.
//
// The bootstrap value is the estimate for the state after
// the final step, which should be 0 if the episode ended
// rather than being cut off.
// The value targets are the advantages plus the values.
func GAE(rewards, values []float64, bootstrap, discount,
	lambda float64) (advantages, targets []float64) {
	if len(rewards) != len(values) {
		panic("length mismatch")
	}
	advantages = make([]float64, len(rewards))
	targets = make([]float64, len(rewards))
	var accumulation float64
	for t := len(rewards) - 1; t >= 0; t-- {
		next := bootstrap
		if t+1 < len(rewards) {
			next = values[t+1]
		}
		delta := rewards[t] + discount*next - values[t]
		accumulation *= discount * lambda
		accumulation += delta
		advantages[t] = accumulation
		targets[t] = accumulation + values[t]
	}
	return
}
