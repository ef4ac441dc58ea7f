package hatrpo

import (
	"github.com/Joy1112/marl"
	"github.com/sirupsen/logrus"
)

// A Logger logs status messages which are produced during
// sequential training steps.
type Logger interface {
	LogOrder(order []int)
	LogAgentUpdate(agent int, loss float64)
	LogLineSearch(agent int, meanKL, improvement float64)
	LogStats(stats *marl.Stats)
}

// StandardLogger is a Logger which uses logrus.
//
// A Field of name <N> controls whether or not the Log<N>
// method does anything.
type StandardLogger struct {
	Order       bool
	AgentUpdate bool
	LineSearch  bool
	Stats       bool

	// Logger is the destination.
	// If nil, logrus.StandardLogger() is used.
	Logger *logrus.Logger
}

// LogOrder logs the update order of a training step.
func (s *StandardLogger) LogOrder(order []int) {
	if s.Order {
		s.logger().WithField("order", order).Info("sequential update")
	}
}

// LogAgentUpdate logs an agent's surrogate loss before its
// trust-region step.
func (s *StandardLogger) LogAgentUpdate(agent int, loss float64) {
	if s.AgentUpdate {
		s.logger().WithFields(logrus.Fields{
			"agent": agent,
			"loss":  loss,
		}).Info("agent update")
	}
}

// LogLineSearch logs one line-search iteration.
func (s *StandardLogger) LogLineSearch(agent int, meanKL, improvement float64) {
	if s.LineSearch {
		s.logger().WithFields(logrus.Fields{
			"agent":       agent,
			"kl":          meanKL,
			"improvement": improvement,
		}).Debug("line search")
	}
}

// LogStats logs the diagnostics of a loss computation.
func (s *StandardLogger) LogStats(stats *marl.Stats) {
	if s.Stats {
		fields := logrus.Fields{}
		for k, v := range stats.Map() {
			fields[k] = v
		}
		s.logger().WithFields(fields).Info("loss stats")
	}
}

func (s *StandardLogger) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
