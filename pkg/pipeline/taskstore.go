package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/ports"
)

const taskGraph = "task"

// IncompleteTaskError is returned when a task is started before all required arguments are known.
type IncompleteTaskError struct {
	SessionID string
	Missing   []string
}

func (e *IncompleteTaskError) Error() string {
	return fmt.Sprintf("task of session '%s' is missing %v", e.SessionID, e.Missing)
}

// TaskKey is the checkpoint key of the task record collected in a chat session.
func TaskKey(sessionID string) string {
	return sessionID + "/task"
}

// TaskStore keeps the task record of each chat session in a checkpoint store,
// so task records get the same encryption and masking as conversations.
type TaskStore struct {
	store ports.CheckpointStore
	now   func() time.Time
}

func NewTaskStore(store ports.CheckpointStore) *TaskStore {
	return &TaskStore{store: store, now: time.Now}
}

// Load returns the task record of a session, or a new empty task.
func (t *TaskStore) Load(ctx context.Context, sessionID string) (domain.PipelineTaskState, error) {
	cp, err := t.store.Load(ctx, TaskKey(sessionID))
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return domain.NewPipelineTaskState(), nil
	}
	if err != nil {
		return domain.PipelineTaskState{}, fmt.Errorf("load task: %w", err)
	}
	task := domain.NewPipelineTaskState()
	if err := json.Unmarshal(cp.State, &task); err != nil {
		return domain.PipelineTaskState{}, fmt.Errorf("decode task of '%s': %w", sessionID, err)
	}
	if task.Args == nil {
		task.Args = make(domain.Args)
	}
	return task, nil
}

func (t *TaskStore) Save(ctx context.Context, sessionID string, task domain.PipelineTaskState) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := TaskKey(sessionID)
	return t.store.Save(ctx, key, &domain.Checkpoint{
		Key:       key,
		Graph:     taskGraph,
		Status:    domain.CheckpointCompleted,
		State:     raw,
		UpdatedAt: t.now(),
	})
}

// restorer captures the stored record of a session and returns a function that
// puts it back, or removes the record when there was none.
func (t *TaskStore) restorer(ctx context.Context, sessionID string) (graph.CompensateFunc, error) {
	key := TaskKey(sessionID)
	prev, err := t.store.Load(ctx, key)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return func(ctx context.Context) error { return t.store.Delete(ctx, key) }, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return func(ctx context.Context) error { return t.store.Save(ctx, key, prev) }, nil
}

// Delete clears the arguments of a session's task so a new one can be collected.
func (t *TaskStore) Delete(ctx context.Context, sessionID string) error {
	task, err := t.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	task.Args.Clear()
	return t.Save(ctx, sessionID, task)
}

// Remove drops the task record of a session.
func (t *TaskStore) Remove(ctx context.Context, sessionID string) error {
	err := t.store.Delete(ctx, TaskKey(sessionID))
	if err != nil && !errors.Is(err, domain.ErrCheckpointNotFound) {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}

// Ready returns the task of a session once every required argument is set.
func (t *TaskStore) Ready(ctx context.Context, sessionID string) (domain.PipelineTaskState, error) {
	task, err := t.Load(ctx, sessionID)
	if err != nil {
		return domain.PipelineTaskState{}, err
	}
	if missing := task.Args.Missing(); len(missing) > 0 {
		return domain.PipelineTaskState{}, &IncompleteTaskError{SessionID: sessionID, Missing: missing}
	}
	return task, nil
}
