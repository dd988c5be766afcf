package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/observability"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct {
	turns []dialogue.Turn
	reply *dialogue.Reply
	err   error
}

func (c *stubChat) Submit(_ context.Context, turn dialogue.Turn) (*dialogue.Reply, error) {
	c.turns = append(c.turns, turn)
	if c.err != nil {
		return nil, c.err
	}
	r := *c.reply
	r.SessionID = turn.SessionID
	return &r, nil
}

func (c *stubChat) Inspect(_ context.Context, id string) (*graph.Snapshot[domain.ConversationState], error) {
	if id != "s1" || c.reply == nil {
		return nil, domain.ErrCheckpointNotFound
	}
	return &graph.Snapshot[domain.ConversationState]{
		Checkpoint: &domain.Checkpoint{Key: id, NodeID: "chat", Status: domain.CheckpointSuspended},
		State:      c.reply.State,
		Pending:    c.reply.Interrupt,
	}, nil
}

func suspendedReply() *dialogue.Reply {
	question := "Do you want to keep working on pipeline?"
	return &dialogue.Reply{
		State: domain.ConversationState{
			Messages: []*domain.Message{
				domain.HumanMessage("tell me about BRCA1"),
				domain.AssistantMessage(question),
			},
			Action:      domain.ActionPipeline,
			Interrupted: true,
		},
		Interrupt: &domain.InterruptToken{Namespace: "chat", Value: question},
		Content:   question,
		Steps: []graph.Step[domain.ConversationState]{{
			Node: "chat",
			Update: domain.ConversationState{
				Messages: []*domain.Message{domain.AssistantMessage(question)},
			},
		}},
	}
}

func completedReply() *dialogue.Reply {
	return &dialogue.Reply{
		Completed: true,
		State:     domain.ConversationState{Action: domain.ActionPipeline},
		Content:   "Please tell me the project name.",
		Steps: []graph.Step[domain.ConversationState]{
			{Node: "chat", Update: domain.ConversationState{Action: domain.ActionPipeline}},
			{Node: "pipeline", Update: domain.ConversationState{
				Messages: []*domain.Message{domain.AssistantMessage("Please tell me the project name.")},
			}},
		},
	}
}

// taskDesk serves task records straight from a TaskStore.
type taskDesk struct {
	*pipeline.TaskStore
}

func (d taskDesk) Task(ctx context.Context, sid string) (domain.PipelineTaskState, error) {
	return d.Load(ctx, sid)
}

func (d taskDesk) DeleteTask(ctx context.Context, sid string) error {
	return d.Delete(ctx, sid)
}

type fixture struct {
	chat       *stubChat
	tasks      *pipeline.TaskStore
	classifier *pipeline.ScriptedClassifier
	handler    http.Handler
}

func newFixture(t *testing.T, outcomes ...domain.StageOutcome) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		chat:       &stubChat{reply: completedReply()},
		tasks:      pipeline.NewTaskStore(store),
		classifier: pipeline.NewScriptedClassifier(outcomes...),
	}
	sup, err := pipeline.NewSupervisor(store, memory.NewRegistry(), f.classifier)
	require.NoError(t, err)
	f.handler = NewHandler(Options{
		Chat:      f.chat,
		Pipelines: sup,
		Tasks:     taskDesk{f.tasks},
		Metrics:   observability.NewMetrics().Handler(),
		ModelName: "qwen2.5:7b",
		Version:   "1.2.3",
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestGetHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestGetInfo(t *testing.T) {
	f := newFixture(t)
	resp := decode[map[string]string](t, f.do(t, http.MethodGet, "/info", ""))
	assert.Equal(t, "tether-http", resp["app"])
	assert.Equal(t, "1.2.3", resp["version"])
	assert.Equal(t, apiVersion, resp["api_version"])
}

func TestListModels(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"qwen2.5:7b"`)
}

func TestCompletion(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/chat/completions", `{
		"model": "tether",
		"messages": [{"role":"system","content":"ignored"},{"role":"user","content":"run the pipeline"}],
		"metadata": {"chat_id": "s1"}
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[completionJSON](t, rr)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Please tell me the project name.", resp.Choices[0].Message.Content)
	assert.Equal(t, finishStop, *resp.Choices[0].FinishReason)
	assert.Equal(t, "s1", resp.Metadata.ChatID)
	assert.Equal(t, domain.ActionPipeline, resp.Metadata.Action)
	assert.False(t, resp.Metadata.Interrupted)

	require.Len(t, f.chat.turns, 1)
	assert.Equal(t, "run the pipeline", f.chat.turns[0].Message)
	assert.Nil(t, f.chat.turns[0].Resume)
}

func TestCompletionSuspendedPassesResume(t *testing.T) {
	f := newFixture(t)
	f.chat.reply = suspendedReply()
	rr := f.do(t, http.MethodPost, "/v1/chat/completions", `{
		"messages": [{"role":"user","content":"yes"}],
		"metadata": {"chat_id": "s1"},
		"resume": true
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[completionJSON](t, rr)
	assert.Equal(t, finishInterrupt, *resp.Choices[0].FinishReason)
	assert.True(t, resp.Metadata.Interrupted)
	require.NotNil(t, f.chat.turns[0].Resume)
	assert.True(t, *f.chat.turns[0].Resume)
}

func TestCompletionStream(t *testing.T) {
	f := newFixture(t)
	f.chat.reply = suspendedReply()
	rr := f.do(t, http.MethodPost, "/v1/chat/completions", `{
		"messages": [{"role":"user","content":"tell me about BRCA1"}],
		"metadata": {"chat_id": "s1"},
		"stream": true
	}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		if line, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			events = append(events, line)
		}
	}
	require.Len(t, events, 3)
	assert.Equal(t, "[DONE]", events[2])

	var first, last completionJSON
	require.NoError(t, json.Unmarshal([]byte(events[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(events[1]), &last))
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "Do you want to keep working on pipeline?", first.Choices[0].Delta.Content)
	assert.Equal(t, "chat", first.Metadata.Node)
	assert.Nil(t, first.Choices[0].FinishReason)
	assert.Equal(t, finishInterrupt, *last.Choices[0].FinishReason)
	assert.Equal(t, first.ID, last.ID)
}

func TestCompletionErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"no user message", `{"messages":[{"role":"system","content":"x"}]}`, nil, http.StatusBadRequest},
		{"resume mismatch", `{"messages":[{"role":"user","content":"x"}]}`, domain.ErrResumeMismatch, http.StatusConflict},
		{"model failure", `{"messages":[{"role":"user","content":"x"}]}`, &domain.ModelInvocationError{Node: "chat", Err: context.DeadlineExceeded}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.chat.err = tt.err
			rr := f.do(t, http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.NotEmpty(t, decode[errorJSON](t, rr).Error.Message)
		})
	}
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	f.chat.reply = suspendedReply()

	rr := f.do(t, http.MethodGet, "/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[sessionJSON](t, rr)
	assert.True(t, resp.Suspended)
	assert.Equal(t, domain.ActionPipeline, resp.Action)
	assert.Len(t, resp.Messages, 2)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/nope", "").Code)
}

func saveReadyTask(t *testing.T, tasks *pipeline.TaskStore, sid string) {
	t.Helper()
	task := domain.NewPipelineTaskState()
	for _, k := range task.Args.Missing() {
		task.Args.Set(k, "x")
	}
	task.Args.Set(domain.KeySequencingSpecies, "human")
	require.NoError(t, tasks.Save(context.Background(), sid, task))
}

func TestSessionTask(t *testing.T) {
	f := newFixture(t)
	saveReadyTask(t, f.tasks, "s1")

	rr := f.do(t, http.MethodGet, "/v1/sessions/s1/task", "")
	require.Equal(t, http.StatusOK, rr.Code)
	task := decode[taskJSON](t, rr)
	assert.True(t, task.Ready)
	assert.Empty(t, task.Missing)
	assert.Equal(t, "human", task.Args[domain.KeySequencingSpecies])

	rr = f.do(t, http.MethodDelete, "/v1/sessions/s1/task", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	task = decode[taskJSON](t, f.do(t, http.MethodGet, "/v1/sessions/s1/task", ""))
	assert.False(t, task.Ready)
	assert.Empty(t, task.Args)
	assert.Contains(t, task.Missing, domain.KeyProjectName)

	rr = f.do(t, http.MethodPost, "/v1/pipelines", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "a cleared task cannot be started")
}

func TestStartPipeline(t *testing.T) {
	f := newFixture(t)
	saveReadyTask(t, f.tasks, "s1")

	rr := f.do(t, http.MethodPost, "/v1/pipelines", `{"session_id":"s1","run_id":"r1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	run := decode[runJSON](t, rr)
	assert.Equal(t, "r1", run.RunID)
	assert.True(t, run.Completed)
	assert.Nil(t, run.Intervention)
	assert.Equal(t, "r1", run.Args[domain.KeyJobID])

	status := decode[runJSON](t, f.do(t, http.MethodGet, "/v1/pipelines/r1", ""))
	assert.True(t, status.Completed)
	assert.Equal(t, domain.StageCompleted, status.Stage)
}

func TestStartPipelineIncompleteTask(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/pipelines", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decode[errorJSON](t, rr)
	assert.Contains(t, resp.Error.Missing, domain.KeyProjectName)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/pipelines", `{}`).Code)
}

func TestUnblockPipeline(t *testing.T) {
	f := newFixture(t, domain.StatusHumanIntervention)
	saveReadyTask(t, f.tasks, "s1")

	run := decode[runJSON](t, f.do(t, http.MethodPost, "/v1/pipelines", `{"session_id":"s1","run_id":"r1"}`))
	require.NotNil(t, run.Intervention)
	assert.False(t, run.Completed)
	assert.Equal(t, domain.Stages[0], run.Intervention.Stage)

	status := decode[runJSON](t, f.do(t, http.MethodGet, "/v1/pipelines/r1", ""))
	require.NotNil(t, status.Intervention)
	assert.Equal(t, run.Intervention.Stage, status.Intervention.Stage)

	rr := f.do(t, http.MethodPost, "/v1/pipelines/r1/unblock", `{"note":"fixed the sample sheet"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[runJSON](t, rr).Completed)

	rr = f.do(t, http.MethodPost, "/v1/pipelines/r1/unblock", `{"note":"again"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestPipelineStatusNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/pipelines/missing", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
