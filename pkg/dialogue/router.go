package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/prompts"
	"github.com/aretw0/tether/pkg/session"
	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
)

// GraphName names the dialogue graph in checkpoints and metrics.
const GraphName = "dialogue"

// Node names of the dialogue graph.
const (
	NodeChat     = "chat"
	NodePipeline = "pipeline"
	NodeMedical  = "medical"
)

// Turn is one inbound call for a session.
type Turn struct {
	// SessionID is generated when empty.
	SessionID string
	// Message is the user's text, or the answer when the session is suspended.
	Message string
	// Resume, when set, must agree with whether the session is suspended.
	Resume *bool
}

// Reply is the outcome of a turn.
type Reply struct {
	SessionID string
	Completed bool
	State     domain.ConversationState
	Interrupt *domain.InterruptToken
	// Content is the question when suspended, else the last assistant text of the turn.
	Content string
	Steps   []graph.Step[domain.ConversationState]
}

type Node = graph.NodeFunc[domain.ConversationState]

// Router is the dialogue graph bound to its persistence.
type Router struct {
	exec       *graph.Executor[domain.ConversationState]
	interrupts ports.InterruptRegistry
	sessions   *session.Manager
	model      model.BaseChatModel
	prompts    *prompts.Set
	logger     *slog.Logger
}

type options struct {
	logger   *slog.Logger
	sessions *session.Manager
	pipeline Node
	medical  Node
	execOpts []graph.ExecutorOption
}

// Option configures a Router.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSessionManager shares a session manager, e.g. one holding a distributed lock.
func WithSessionManager(m *session.Manager) Option {
	return func(o *options) {
		o.sessions = m
	}
}

// WithPipelineNode installs the node run while the action is "pipeline".
func WithPipelineNode(n Node) Option {
	return func(o *options) {
		o.pipeline = n
	}
}

// WithMedicalNode installs the node run while the action is "medical".
func WithMedicalNode(n Node) Option {
	return func(o *options) {
		o.medical = n
	}
}

// WithExecutorOptions forwards options to the underlying executor.
func WithExecutorOptions(opts ...graph.ExecutorOption) Option {
	return func(o *options) {
		o.execOpts = append(o.execOpts, opts...)
	}
}

// New builds the dialogue router.
func New(m model.BaseChatModel, set *prompts.Set, store ports.CheckpointStore, interrupts ports.InterruptRegistry, opts ...Option) (*Router, error) {
	if m == nil || set == nil {
		return nil, errors.New("dialogue router needs a model and a prompt set")
	}
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessions == nil {
		o.sessions = session.NewManager(session.WithLogger(o.logger))
	}
	if o.pipeline == nil {
		o.pipeline = passthrough(o.logger, NodePipeline)
	}
	if o.medical == nil {
		o.medical = passthrough(o.logger, NodeMedical)
	}

	r := &Router{
		interrupts: interrupts,
		sessions:   o.sessions,
		model:      m,
		prompts:    set,
		logger:     o.logger,
	}

	g, err := graph.NewBuilder[domain.ConversationState](GraphName, domain.MergeConversation).
		AddNode(NodeChat, r.chat).
		AddNode(NodePipeline, o.pipeline).
		AddNode(NodeMedical, o.medical).
		SetEntry(NodeChat).
		AddConditionalEdge(NodeChat, route, NodePipeline, NodeMedical, graph.End).
		AddEdge(NodePipeline, graph.End).
		AddEdge(NodeMedical, graph.End).
		Compile()
	if err != nil {
		return nil, err
	}

	execOpts := append([]graph.ExecutorOption{graph.WithLogger(o.logger)}, o.execOpts...)
	r.exec = graph.NewExecutor(g, store, interrupts, execOpts...)
	return r, nil
}

// Submit runs one turn for a session: a resume when the session has a pending
// interrupt, a fresh turn otherwise. Turns of one session never overlap.
func (r *Router) Submit(ctx context.Context, turn Turn) (*Reply, error) {
	sid := turn.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	var reply *Reply
	err := r.sessions.WithLock(ctx, sid, func(ctx context.Context) error {
		tok, err := r.interrupts.Lookup(ctx, sid)
		if err != nil {
			return fmt.Errorf("lookup interrupt: %w", err)
		}
		pending := tok != nil
		if turn.Resume != nil && !*turn.Resume && pending {
			return fmt.Errorf("%w: session '%s' is waiting for an answer", domain.ErrResumeMismatch, sid)
		}

		var res *graph.Result[domain.ConversationState]
		if pending {
			res, err = r.exec.Resume(ctx, sid, turn.Message)
			if errors.Is(err, domain.ErrStaleResume) {
				r.logger.Warn("stale resume, running a fresh turn", "session_id", sid)
				res, err = r.fresh(ctx, sid, turn.Message)
			}
		} else {
			if turn.Resume != nil && *turn.Resume {
				r.logger.Warn("resume requested without pending interrupt, running a fresh turn", "session_id", sid)
			}
			res, err = r.fresh(ctx, sid, turn.Message)
		}
		if err != nil {
			return err
		}
		reply = newReply(sid, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Inspect returns the committed conversation of a session.
func (r *Router) Inspect(ctx context.Context, sessionID string) (*graph.Snapshot[domain.ConversationState], error) {
	return r.exec.Inspect(ctx, sessionID)
}

// Graph returns the compiled dialogue graph.
func (r *Router) Graph() *graph.Graph[domain.ConversationState] { return r.exec.Graph() }

// Reset forgets a session.
func (r *Router) Reset(ctx context.Context, sessionID string) error {
	return r.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return r.exec.Reset(ctx, sessionID)
	})
}

func (r *Router) fresh(ctx context.Context, sid, message string) (*graph.Result[domain.ConversationState], error) {
	return r.exec.Run(ctx, sid, func(committed domain.ConversationState) domain.ConversationState {
		in := committed.Fork()
		in.Messages = []*domain.Message{domain.HumanMessage(message)}
		in.Interrupted = false
		in.Pending = nil
		return domain.MergeConversation(committed, in)
	})
}

func newReply(sid string, res *graph.Result[domain.ConversationState]) *Reply {
	reply := &Reply{
		SessionID: sid,
		Completed: res.Status == graph.StatusCompleted,
		State:     res.State,
		Interrupt: res.Interrupt,
		Steps:     res.Steps,
	}
	if res.Interrupt != nil {
		reply.Content = fmt.Sprint(res.Interrupt.Value)
		return reply
	}
	for _, step := range res.Steps {
		for _, m := range step.Update.Messages {
			if m != nil && m.Role == domain.RoleAssistant {
				reply.Content = m.Content
			}
		}
	}
	return reply
}

func route(_ context.Context, s domain.ConversationState) (string, error) {
	switch s.CurrentAction() {
	case domain.ActionPipeline:
		return NodePipeline, nil
	case domain.ActionMedical:
		return NodeMedical, nil
	default:
		return graph.End, nil
	}
}

func passthrough(logger *slog.Logger, name string) Node {
	return func(ctx context.Context, s domain.ConversationState, _ graph.Resume) (graph.Command[domain.ConversationState], error) {
		logger.Debug("no handler installed", "node", name)
		return graph.Continue(s.Fork()), nil
	}
}
