package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
)

// CheckpointStore persists the latest checkpoint for each session key.
//
// A Save must be atomic: a concurrent Load observes either the previous or the
// new checkpoint, never a mix. Callers serialize writes per key.
type CheckpointStore interface {
	// Save persists the checkpoint under key, replacing any previous one.
	Save(ctx context.Context, key string, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint for key.
	// Returns domain.ErrCheckpointNotFound if the key has none.
	Load(ctx context.Context, key string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys that currently hold a checkpoint.
	List(ctx context.Context) ([]string, error)
}
