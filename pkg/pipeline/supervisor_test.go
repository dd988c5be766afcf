package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func stageNames() []string {
	out := make([]string, len(domain.Stages))
	for i, s := range domain.Stages {
		out[i] = string(s)
	}
	return out
}

func newSupervisor(t *testing.T, c *pipeline.ScriptedClassifier, opts ...pipeline.SupervisorOption) *pipeline.Supervisor {
	t.Helper()
	opts = append([]pipeline.SupervisorOption{pipeline.WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := pipeline.NewSupervisor(memory.NewStore(), memory.NewRegistry(), c, opts...)
	require.NoError(t, err)
	return s
}

func readyTask() domain.PipelineTaskState {
	task := domain.NewPipelineTaskState()
	task.Args.Set(domain.KeyProjectName, "STING_UNLOCK")
	task.Args.Set(domain.KeyBatchID, "B17")
	task.Messages = []*domain.Message{domain.HumanMessage("run it")}
	return task
}

func TestSupervisor_RunsStagesInOrder(t *testing.T) {
	c := pipeline.NewScriptedClassifier()
	s := newSupervisor(t, c)

	run, err := s.Start(context.Background(), "run-1", readyTask())
	require.NoError(t, err)

	assert.True(t, run.Completed)
	assert.Equal(t, domain.StageCompleted, run.Stage)
	assert.Equal(t, domain.Stages, c.Seen())

	var path []string
	for _, step := range run.Steps {
		path = append(path, step.Node)
	}
	assert.Equal(t, stageNames(), path)

	jobID, _ := run.State.Args.Get(domain.KeyJobID)
	assert.Equal(t, "run-1", jobID)
	created, _ := run.State.Args.Get(domain.KeyCreateDate)
	assert.Equal(t, "2026-03-14", created)
}

func TestSupervisor_OnlyMessagesPropagate(t *testing.T) {
	s := newSupervisor(t, pipeline.NewScriptedClassifier())
	task := readyTask()

	run, err := s.Start(context.Background(), "run-1", task)
	require.NoError(t, err)

	msgs := run.State.Messages
	require.Len(t, msgs, 1+3*len(domain.Stages))
	assert.Equal(t, "run it", msgs[0].Content)
	assert.Equal(t, "[init] init", msgs[1].Content)
	assert.Equal(t, "[completed] completed", msgs[len(msgs)-1].Content)

	assert.Equal(t, task.Stages, run.State.Stages)
	assert.Len(t, task.Messages, 1, "the caller's task is not modified")
	_, stamped := task.Args.Get(domain.KeyJobID)
	assert.False(t, stamped)
}

func TestSupervisor_EscalationAndUnblock(t *testing.T) {
	c := pipeline.NewScriptedClassifier(
		domain.StatusCompleted,
		domain.StatusFailed, domain.StatusFailed, domain.StatusFailed,
	)
	s := newSupervisor(t, c)
	ctx := context.Background()

	run, err := s.Start(ctx, "run-1", readyTask())
	require.NoError(t, err)
	assert.False(t, run.Completed)
	assert.Equal(t, domain.StageDownloading, run.Stage)
	require.NotNil(t, run.Intervention)
	assert.Equal(t, domain.StageDownloading, run.Intervention.Stage)
	assert.Equal(t, 3, run.Intervention.Failures)

	snap, err := s.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointSuspended, snap.Checkpoint.Status)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, string(domain.StageDownloading), snap.Pending.Namespace)

	_, err = s.Start(ctx, "run-1", readyTask())
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	run, err = s.Unblock(ctx, "run-1", "mirror switched")
	require.NoError(t, err)
	assert.True(t, run.Completed)
	assert.Contains(t, contents(run.State.Messages), "mirror switched")

	_, err = s.Unblock(ctx, "run-1", "again")
	assert.ErrorIs(t, err, domain.ErrStaleResume)
}

func TestSupervisor_SkipsDisabledStages(t *testing.T) {
	c := pipeline.NewScriptedClassifier()
	s := newSupervisor(t, c)
	task := readyTask()
	off := false
	task.Stages[domain.StageBackingUp] = domain.StageArgs{Do: &off}

	run, err := s.Start(context.Background(), "run-1", task)
	require.NoError(t, err)
	assert.True(t, run.Completed)
	assert.NotContains(t, c.Seen(), domain.StageBackingUp)
	assert.Contains(t, contents(run.State.Messages), "[backing-up] skipped")
}

func TestSupervisor_ContinueAfterFailure(t *testing.T) {
	c := pipeline.NewScriptedClassifier(domain.StatusCompleted, domain.StatusFailed)
	s := newSupervisor(t, c, pipeline.WithLifetimeRetryCap(1))
	ctx := context.Background()

	_, err := s.Start(ctx, "run-1", readyTask())
	var capErr *pipeline.RetryCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, domain.StageDownloading, capErr.Stage)

	snap, err := s.Status(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointActive, snap.Checkpoint.Status)
	assert.Equal(t, string(domain.StageDownloading), snap.Checkpoint.NodeID)

	run, err := s.Continue(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.Completed)
	assert.Equal(t, string(domain.StageDownloading), run.Steps[0].Node)
	assert.Equal(t, []domain.Stage{domain.StageInit, domain.StageDownloading, domain.StageDownloading}, c.Seen()[:3])
}

func TestSupervisor_GeneratesRunID(t *testing.T) {
	s := newSupervisor(t, pipeline.NewScriptedClassifier())

	run, err := s.Start(context.Background(), "", readyTask())
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)

	jobID, _ := run.State.Args.Get(domain.KeyJobID)
	assert.Equal(t, run.RunID, jobID)
}

func TestSupervisor_NeedsClassifier(t *testing.T) {
	_, err := pipeline.NewSupervisor(memory.NewStore(), memory.NewRegistry(), nil)
	assert.Error(t, err)
}

func contents(msgs []*domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
