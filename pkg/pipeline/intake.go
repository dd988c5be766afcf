package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/prompts"
	"github.com/cloudwego/eino/components/model"
)

// IntakeNodeName is the node the intake is installed as in the dialogue graph.
const IntakeNodeName = "pipeline"

// Intake collects the arguments of a new pipeline task from the conversation.
type Intake struct {
	model   model.BaseChatModel
	prompts *prompts.Set
	tasks   *TaskStore
	logger  *slog.Logger
}

type IntakeOption func(*Intake)

func WithIntakeLogger(logger *slog.Logger) IntakeOption {
	return func(i *Intake) {
		i.logger = logger
	}
}

func NewIntake(m model.BaseChatModel, set *prompts.Set, tasks *TaskStore, opts ...IntakeOption) *Intake {
	i := &Intake{model: m, prompts: set, tasks: tasks, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Node is the dialogue node run while a session talks about a pipeline task.
// It asks the model to format the latest message as task arguments, stores the
// new ones and answers with a tip on what is still missing. The task record is
// written before the turn commits and restored if the turn fails.
func (i *Intake) Node(ctx context.Context, s domain.ConversationState, _ graph.Resume) (graph.Command[domain.ConversationState], error) {
	sid, _ := graph.SessionKey(ctx)

	task, err := i.tasks.Load(ctx, sid)
	if err != nil {
		return graph.Command[domain.ConversationState]{}, err
	}

	var userMessage string
	if human, ok := domain.LastHuman(s.Messages); ok {
		userMessage = human.Content
	}
	reply, err := i.prompts.Generate(ctx, i.model, "pipeline", "formatter", map[string]any{
		"user_message": userMessage,
		"known_args":   knownArgs(task.Args),
	})
	if err != nil {
		return graph.Command[domain.ConversationState]{}, &domain.ModelInvocationError{Node: IntakeNodeName, Err: err}
	}

	changed := ExtractArgs(reply.Content, task.Args)
	tip, err := i.tip(task.Args, changed)
	if err != nil {
		return graph.Command[domain.ConversationState]{}, err
	}
	task.Action = s.Action
	undo, err := i.tasks.restorer(ctx, sid)
	if err != nil {
		return graph.Command[domain.ConversationState]{}, err
	}
	if err := i.tasks.Save(ctx, sid, task); err != nil {
		return graph.Command[domain.ConversationState]{}, fmt.Errorf("save task: %w", err)
	}
	// The task record is not part of the conversation checkpoint; a turn that
	// fails to commit puts the previous record back.
	graph.OnRollback(ctx, undo)
	i.logger.Info("task arguments updated", "session_id", sid, "changed", changed, "missing", len(task.Args.Missing()))

	u := s.Fork()
	u.Messages = []*domain.Message{domain.AssistantMessage(tip)}
	return graph.Continue(u), nil
}

// tip names the next missing argument, repeats the last question when nothing
// new was learned, or confirms the task is complete.
func (i *Intake) tip(args domain.Args, changed bool) (string, error) {
	missing := args.Missing()
	if len(missing) == 0 {
		name, _ := args.Get(domain.KeyProjectName)
		return i.prompts.Text("pipeline", "done", map[string]string{"project_name": name})
	}
	if changed {
		args.SetTopic(missing[0])
		return i.prompts.Text("pipeline", "success", map[string]string{"missing_key": missing[0]})
	}
	topic, ok := args.Get(domain.KeyKeywordTopics)
	if !ok {
		topic = missing[0]
		args.SetTopic(topic)
	}
	return i.prompts.Text("pipeline", "fail", map[string]string{"topic_key": topic})
}

func knownArgs(args domain.Args) string {
	var b strings.Builder
	for _, key := range domain.TaskKeys {
		if v, ok := args.Get(key); ok && extractable(key) {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}
	if b.Len() == 0 {
		return "nothing yet"
	}
	return strings.TrimRight(b.String(), "\n")
}
