package detection

import (
	"github.com/sirupsen/logrus"
)

// Engine is the uniform inference contract: a fixed-size feature vector in,
// a NumScores score vector out. Implementations are selected at wiring
// time, never probed at runtime.
type Engine interface {
	// Invoke runs inference. Scores are in [0, 1].
	Invoke(features []float32) ([]float32, error)

	// Close releases engine resources.
	Close() error
}

// disabledEngine is used when no model is configured or loadable. It
// returns the all-zero score vector: absence of a model is a valid runtime
// state, so this path never errors.
type disabledEngine struct{}

func (disabledEngine) Invoke([]float32) ([]float32, error) {
	return make([]float32, NumScores), nil
}

func (disabledEngine) Close() error { return nil }

// NewDisabledEngine returns the no-model engine.
func NewDisabledEngine() Engine {
	return disabledEngine{}
}

// Classifier wraps an Engine and absorbs its failures. Classify never
// fails: any engine error degrades to the zero vector so the caller's
// decision policy still runs its volume short-circuit.
type Classifier struct {
	logger *logrus.Logger
	engine Engine
}

// NewClassifier creates a classifier around the given engine. A nil engine
// behaves like the disabled engine.
func NewClassifier(logger *logrus.Logger, engine Engine) *Classifier {
	if engine == nil {
		engine = NewDisabledEngine()
	}
	return &Classifier{
		logger: logger,
		engine: engine,
	}
}

// Classify returns the score vector for one feature window.
func (c *Classifier) Classify(features []float32) []float32 {
	scores, err := c.engine.Invoke(features)
	if err != nil {
		c.logger.WithError(err).Debug("Inference failed, returning zero scores")
		return make([]float32, NumScores)
	}
	if len(scores) != NumScores {
		c.logger.WithField("len", len(scores)).Warn("Engine returned malformed score vector")
		return make([]float32, NumScores)
	}
	return scores
}

// Close releases the underlying engine.
func (c *Classifier) Close() error {
	return c.engine.Close()
}
