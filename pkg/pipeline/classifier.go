package pipeline

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// DefaultCompletionRate is the share of stage executions RandomClassifier reports as completed.
const DefaultCompletionRate = 4.0 / 11.0

// RandomClassifier reports a random outcome per stage execution.
// It stands in for a real job runner in demos and local runs.
type RandomClassifier struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

// NewRandomClassifier returns a classifier completing a stage with probability rate.
// A nil rng uses a randomly seeded source.
func NewRandomClassifier(rate float64, rng *rand.Rand) *RandomClassifier {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if rate < 0 || rate > 1 {
		rate = DefaultCompletionRate
	}
	return &RandomClassifier{rng: rng, rate: rate}
}

func (c *RandomClassifier) Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng.Float64() < c.rate {
		return domain.StatusCompleted, nil
	}
	return domain.StatusFailed, nil
}

// ScriptedClassifier replays a fixed sequence of outcomes, then completes every stage.
type ScriptedClassifier struct {
	mu       sync.Mutex
	outcomes []domain.StageOutcome
	seen     []domain.Stage
}

func NewScriptedClassifier(outcomes ...domain.StageOutcome) *ScriptedClassifier {
	return &ScriptedClassifier{outcomes: outcomes}
}

func (c *ScriptedClassifier) Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, state.Stage)
	if len(c.outcomes) == 0 {
		return domain.StatusCompleted, nil
	}
	out := c.outcomes[0]
	c.outcomes = c.outcomes[1:]
	return out, nil
}

// Seen returns the stages classified so far, in order.
func (c *ScriptedClassifier) Seen() []domain.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Stage(nil), c.seen...)
}
