package dialogue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	askPipeline = "please run RNA-seq for project LIVER"
	askMedical  = "what does a high ALT level mean?"
	smallTalk   = "thanks!"
)

func classifications() map[string]string {
	return map[string]string{
		askPipeline: "pipeline",
		askMedical:  " medical\n",
	}
}

func newRouter(t *testing.T, m *fakeModel, opts ...dialogue.Option) *dialogue.Router {
	t.Helper()
	r, err := dialogue.New(m, prompts.Default(), memory.NewStore(), memory.NewRegistry(), opts...)
	require.NoError(t, err)
	return r
}

func boolPtr(b bool) *bool { return &b }

func contents(msgs []*domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSubmit_ClassificationSetsAction(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))
	ctx := context.Background()

	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: smallTalk})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Equal(t, domain.ActionNone, reply.State.CurrentAction())
	assert.Equal(t, "I am here to help.", reply.Content)

	reply, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Equal(t, domain.ActionPipeline, reply.State.Action)

	// Free text never changes a bound action.
	reply, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: smallTalk})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Equal(t, domain.ActionPipeline, reply.State.Action)

	// Same domain again is not a topic change.
	reply, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.False(t, reply.State.Interrupted)
}

func TestSubmit_TopicChangeSuspends(t *testing.T) {
	m := newFakeModel(classifications())
	r := newRouter(t, m)
	ctx := context.Background()

	_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)

	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
	require.NoError(t, err)
	assert.False(t, reply.Completed)
	require.NotNil(t, reply.Interrupt)
	assert.Equal(t, dialogue.NodeChat, reply.Interrupt.Namespace)
	assert.Equal(t, confirmQuestion, reply.Content)
	assert.True(t, reply.State.Interrupted)
	assert.Equal(t, domain.ActionPipeline, reply.State.Action, "action is unchanged until confirmed")
	assert.Equal(t, confirmQuestion, domain.LastContent(reply.State.Messages))
}

func TestSubmit_ResumeYesKeepsAction(t *testing.T) {
	m := newFakeModel(classifications())
	r := newRouter(t, m)
	ctx := context.Background()

	_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	suspended, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
	require.NoError(t, err)
	callsBefore := m.Calls()

	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: "Yes please", Resume: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Equal(t, domain.ActionPipeline, reply.State.Action)
	assert.False(t, reply.State.Interrupted)
	assert.Equal(t, callsBefore, m.Calls(), "resuming must not call the model again")

	// Exactly one new human entry, right after the question.
	before := len(suspended.State.Messages)
	require.Len(t, reply.State.Messages, before+1)
	assert.Equal(t, domain.RoleHuman, reply.State.Messages[before].Role)
	assert.Equal(t, "Yes please", reply.State.Messages[before].Content)

	// Execution continued from chat and routed on.
	require.NotEmpty(t, reply.Steps)
	assert.Equal(t, dialogue.NodeChat, reply.Steps[0].Node)
	assert.Equal(t, dialogue.NodePipeline, reply.Steps[len(reply.Steps)-1].Node)
}

func TestSubmit_ResumeOtherAdoptsCandidate(t *testing.T) {
	for _, answer := range []string{"no", "nope thanks", "yesterday maybe"} {
		t.Run(answer, func(t *testing.T) {
			r := newRouter(t, newFakeModel(classifications()))
			ctx := context.Background()

			_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
			require.NoError(t, err)
			suspended, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
			require.NoError(t, err)

			reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: answer})
			require.NoError(t, err)
			assert.Equal(t, domain.ActionMedical, reply.State.Action)

			added := contents(reply.State.Messages[len(suspended.State.Messages):])
			assert.Equal(t, []string{answer, "medical"}, added)
		})
	}
}

func TestSubmit_ResumeFlagMismatch(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))
	ctx := context.Background()

	_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
	require.NoError(t, err)

	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: "hello", Resume: boolPtr(false)})
	assert.ErrorIs(t, err, domain.ErrResumeMismatch)

	// The session is still suspended and resumable.
	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: "yes"})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
}

func TestSubmit_ResumeWithoutPendingRunsFreshTurn(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))

	reply, err := r.Submit(context.Background(), dialogue.Turn{SessionID: "s", Message: askPipeline, Resume: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Equal(t, domain.ActionPipeline, reply.State.Action)
}

func TestSubmit_ModelErrorCommitsNothing(t *testing.T) {
	m := newFakeModel(classifications())
	r := newRouter(t, m)
	ctx := context.Background()

	_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	before, err := r.Inspect(ctx, "s")
	require.NoError(t, err)

	m.Fail(errors.New("connection refused"))
	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: smallTalk})
	var invocationErr *domain.ModelInvocationError
	require.ErrorAs(t, err, &invocationErr)
	assert.Equal(t, dialogue.NodeChat, invocationErr.Node)

	after, err := r.Inspect(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, before.Checkpoint, after.Checkpoint)

	_, err = r.Inspect(ctx, "never-seen")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestSubmit_FreshTurnIdempotence(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))
	ctx := context.Background()

	a, err := r.Submit(ctx, dialogue.Turn{SessionID: "a", Message: askPipeline})
	require.NoError(t, err)
	b, err := r.Submit(ctx, dialogue.Turn{SessionID: "b", Message: askPipeline})
	require.NoError(t, err)

	assert.Equal(t, a.State, b.State)
}

func TestSubmit_GeneratesSessionID(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))

	reply, err := r.Submit(context.Background(), dialogue.Turn{Message: smallTalk})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionID)
}

func TestSubmit_InstalledNodes(t *testing.T) {
	var pipelineCalls, medicalCalls int
	pipelineNode := func(ctx context.Context, s domain.ConversationState, _ graph.Resume) (graph.Command[domain.ConversationState], error) {
		pipelineCalls++
		key, _ := graph.SessionKey(ctx)
		u := s.Fork()
		u.Messages = []*domain.Message{domain.AssistantMessage("intake for " + key)}
		return graph.Continue(u), nil
	}
	medicalNode := func(ctx context.Context, s domain.ConversationState, _ graph.Resume) (graph.Command[domain.ConversationState], error) {
		medicalCalls++
		return graph.Continue(s.Fork()), nil
	}
	r := newRouter(t, newFakeModel(classifications()),
		dialogue.WithPipelineNode(pipelineNode),
		dialogue.WithMedicalNode(medicalNode))
	ctx := context.Background()

	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	assert.Equal(t, 1, pipelineCalls)
	assert.Equal(t, "intake for s", reply.Content)

	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
	require.NoError(t, err)
	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: "switch"})
	require.NoError(t, err)
	assert.Equal(t, 1, medicalCalls)
}

func TestReset(t *testing.T) {
	r := newRouter(t, newFakeModel(classifications()))
	ctx := context.Background()

	_, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askPipeline})
	require.NoError(t, err)
	_, err = r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: askMedical})
	require.NoError(t, err)

	require.NoError(t, r.Reset(ctx, "s"))
	reply, err := r.Submit(ctx, dialogue.Turn{SessionID: "s", Message: smallTalk})
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.Len(t, reply.State.Messages, 2)
}
