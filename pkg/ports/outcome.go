package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
)

// OutcomeClassifier decides how one execution of a pipeline stage ended:
// domain.StatusCompleted, domain.StatusFailed or domain.StatusHumanIntervention.
type OutcomeClassifier interface {
	Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error)
}

// OutcomeClassifierFunc adapts a function to OutcomeClassifier.
type OutcomeClassifierFunc func(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error)

// Classify calls f.
func (f OutcomeClassifierFunc) Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error) {
	return f(ctx, runID, state)
}
