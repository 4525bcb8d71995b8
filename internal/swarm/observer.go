package swarm

import (
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/agent"
)

// Observer receives session lifecycle notifications. Observer failures
// are caught individually and never affect session outcome.
type Observer interface {
	OnNodeStart(node string)
	OnNodeComplete(node string, turn agent.Turn)
	OnSessionComplete(result Result)
}

// notify invokes fn on every observer, recovering panics so a broken
// observer cannot interrupt the run.
func (s *Session) notify(fn func(Observer)) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("session observer panicked", zap.Any("panic", r))
				}
			}()
			fn(o)
		}()
	}
}

// LoggingObserver logs session transitions.
type LoggingObserver struct {
	Logger *zap.Logger
}

func (o *LoggingObserver) OnNodeStart(node string) {
	o.Logger.Debug("node started", zap.String("node", node))
}

func (o *LoggingObserver) OnNodeComplete(node string, turn agent.Turn) {
	o.Logger.Debug("node completed",
		zap.String("node", node),
		zap.String("handoff_target", turn.HandoffTarget),
		zap.Bool("done", turn.Done),
		zap.Int("interrupt_questions", len(turn.InterruptQuestions)))
}

func (o *LoggingObserver) OnSessionComplete(result Result) {
	o.Logger.Info("session completed",
		zap.String("status", string(result.Status)),
		zap.Int("handoffs", result.Handoffs),
		zap.Strings("node_history", result.NodeHistory))
}
