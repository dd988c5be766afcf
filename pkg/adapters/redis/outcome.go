package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// ErrNoJobStatus is returned when a stage has no reported status and no fallback is set.
var ErrNoJobStatus = errors.New("no job status reported")

// JobStatusClassifier reads stage outcomes reported by external job runners.
//
// A runner reports by writing the outcome string ("completed", "failed" or
// "human-intervention") to <prefix><runID>:<stage>. Each report is consumed
// by exactly one classification, so a retried stage waits for a new report.
type JobStatusClassifier struct {
	client   *backend.Client
	prefix   string
	fallback ports.OutcomeClassifier
}

// JobStatusOption configures a JobStatusClassifier.
type JobStatusOption func(*JobStatusClassifier)

// WithFallback classifies stages whose runner did not report.
func WithFallback(c ports.OutcomeClassifier) JobStatusOption {
	return func(j *JobStatusClassifier) {
		j.fallback = c
	}
}

// WithJobPrefix sets the key prefix of job reports.
func WithJobPrefix(prefix string) JobStatusOption {
	return func(j *JobStatusClassifier) {
		j.prefix = prefix
	}
}

// NewJobStatusClassifier creates a classifier on an existing client.
func NewJobStatusClassifier(client *backend.Client, opts ...JobStatusOption) *JobStatusClassifier {
	j := &JobStatusClassifier{
		client: client,
		prefix: DefaultPrefix + "job:",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Key returns the report key of a stage of a run.
func (j *JobStatusClassifier) Key(runID string, stage domain.Stage) string {
	return fmt.Sprintf("%s%s:%s", j.prefix, runID, stage)
}

// Report records the outcome of a stage, as a job runner would.
func (j *JobStatusClassifier) Report(ctx context.Context, runID string, stage domain.Stage, outcome domain.StageOutcome) error {
	return j.client.Set(ctx, j.Key(runID, stage), string(outcome), 0).Err()
}

// Classify consumes the reported outcome of the stage.
// The value is returned verbatim; the stage machine rejects unknown outcomes.
func (j *JobStatusClassifier) Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error) {
	val, err := j.client.GetDel(ctx, j.Key(runID, state.Stage)).Result()
	if errors.Is(err, backend.Nil) {
		if j.fallback != nil {
			return j.fallback.Classify(ctx, runID, state)
		}
		return "", fmt.Errorf("%w for stage '%s' of run '%s'", ErrNoJobStatus, state.Stage, runID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return domain.StageOutcome(val), nil
}
