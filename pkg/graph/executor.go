package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

// DefaultMaxSteps bounds the nodes a single turn may execute.
const DefaultMaxSteps = 256

// Status is the outcome of a turn.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
)

// Result is what a Run or Resume call returns.
type Result[S any] struct {
	Status    Status
	State     S
	Interrupt *domain.InterruptToken
	// Path lists the nodes executed by this call, in order.
	Path []string
	// Steps pairs every executed node with the update it returned.
	Steps []Step[S]
}

// Step is one node execution of a turn.
type Step[S any] struct {
	Node   string
	Update S
}

// Snapshot is the committed view of a session key.
type Snapshot[S any] struct {
	Checkpoint *domain.Checkpoint
	State      S
	Pending    *domain.InterruptToken
}

type sessionKey struct{}

// SessionKey returns the checkpoint key of the run executing the current node.
func SessionKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(sessionKey{}).(string)
	return key, ok
}

// WithSessionKey attaches key to ctx the way the executor does for its nodes.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKey{}, key)
}

// Executor runs a compiled graph against a checkpoint store and an interrupt registry.
// Callers must serialize Run and Resume per key; see the session package.
type Executor[S any] struct {
	graph           *Graph[S]
	store           ports.CheckpointStore
	interrupts      ports.InterruptRegistry
	logger          *slog.Logger
	hooks           domain.LifecycleHooks
	stepCheckpoints bool
	maxSteps        int
	now             func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	logger          *slog.Logger
	hooks           domain.LifecycleHooks
	stepCheckpoints bool
	maxSteps        int
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) ExecutorOption {
	return func(c *executorConfig) {
		c.hooks = hooks
	}
}

// WithStepCheckpoints also commits an active checkpoint after every node,
// so a failed turn continues from the failing node on the next Run.
func WithStepCheckpoints() ExecutorOption {
	return func(c *executorConfig) {
		c.stepCheckpoints = true
	}
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) ExecutorOption {
	return func(c *executorConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// NewExecutor binds a graph to its persistence.
func NewExecutor[S any](g *Graph[S], store ports.CheckpointStore, interrupts ports.InterruptRegistry, opts ...ExecutorOption) *Executor[S] {
	cfg := executorConfig{
		logger:   logging.NewNop(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor[S]{
		graph:           g,
		store:           store,
		interrupts:      interrupts,
		logger:          cfg.logger.With("graph", g.name),
		hooks:           cfg.hooks,
		stepCheckpoints: cfg.stepCheckpoints,
		maxSteps:        cfg.maxSteps,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Graph returns the compiled graph.
func (e *Executor[S]) Graph() *Graph[S] { return e.graph }

// Run executes a fresh turn for key.
//
// The turn starts at the entry node, or at the committed node when the last
// turn stopped on an active step checkpoint. It fails with
// domain.ErrPendingInterrupt while the key has an unanswered interrupt.
// Errors returned by node bodies are passed through as is and nothing is committed.
func (e *Executor[S]) Run(ctx context.Context, key string, input Input[S]) (*Result[S], error) {
	cp, committed, err := e.load(ctx, key)
	if err != nil {
		return nil, err
	}

	start := e.graph.entry
	var history []string
	step := 0
	if cp != nil {
		step = cp.Step
		switch cp.Status {
		case domain.CheckpointSuspended:
			tok, err := e.interrupts.Lookup(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("lookup interrupt: %w", err)
			}
			if tok != nil {
				return nil, domain.ErrPendingInterrupt
			}
			e.logger.Warn("suspended checkpoint without pending interrupt, starting fresh turn", "key", key, "node", cp.NodeID)
		case domain.CheckpointActive:
			if e.graph.has(cp.NodeID) {
				start = cp.NodeID
				history = cp.History
				e.logger.Info("continuing interrupted turn", "key", key, "node", start)
			}
		}
	}

	state := committed
	if input != nil {
		state = input(committed)
	}
	return e.execute(ctx, key, state, start, Resume{}, history, step)
}

// Resume answers the pending interrupt of key with value and continues the run
// by re-invoking the node that suspended it.
//
// It fails with domain.ErrStaleResume when no interrupt is pending. If the
// continued turn fails, the interrupt is restored so the caller may retry and
// the node's error is returned as is.
func (e *Executor[S]) Resume(ctx context.Context, key string, value any) (*Result[S], error) {
	tok, err := e.interrupts.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("take interrupt: %w", err)
	}
	if tok == nil {
		return nil, domain.ErrStaleResume
	}

	cp, state, err := e.load(ctx, key)
	if err != nil {
		e.restore(ctx, tok)
		return nil, err
	}
	if cp == nil || cp.Status != domain.CheckpointSuspended || cp.NodeID != tok.Namespace || !e.graph.has(cp.NodeID) {
		e.logger.Warn("dropping stale interrupt", "key", key, "namespace", tok.Namespace)
		return nil, fmt.Errorf("%w: interrupt '%s' does not match the committed run", domain.ErrStaleResume, tok.Namespace)
	}

	e.logger.Info("resuming run", "key", key, "node", cp.NodeID)
	if e.hooks.OnResume != nil {
		e.hooks.OnResume(ctx, &domain.InterruptEvent{
			EventBase: e.event(domain.EventResume, key),
			Token:     *tok,
		})
	}

	res, err := e.execute(ctx, key, state, cp.NodeID, Resume{Value: value, Resumed: true}, cp.History, cp.Step)
	if err != nil {
		if after, lerr := e.store.Load(ctx, key); lerr == nil && after.UpdatedAt.Equal(cp.UpdatedAt) && after.Status == domain.CheckpointSuspended {
			e.restore(ctx, tok)
		}
		return nil, err
	}
	return res, nil
}

// Reset discards the committed run and any pending interrupt of key.
func (e *Executor[S]) Reset(ctx context.Context, key string) error {
	if _, err := e.interrupts.Take(ctx, key); err != nil {
		return fmt.Errorf("take interrupt: %w", err)
	}
	if err := e.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Inspect returns the committed snapshot of key.
func (e *Executor[S]) Inspect(ctx context.Context, key string) (*Snapshot[S], error) {
	cp, state, err := e.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, domain.ErrCheckpointNotFound
	}
	tok, err := e.interrupts.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup interrupt: %w", err)
	}
	return &Snapshot[S]{Checkpoint: cp, State: state, Pending: tok}, nil
}

// execute walks the graph from node. Compensations registered by the nodes of
// a failed turn are unwound before the error is returned.
func (e *Executor[S]) execute(ctx context.Context, key string, state S, node string, resume Resume, history []string, step int) (*Result[S], error) {
	undo := &compensations{}
	res, err := e.walk(context.WithValue(ctx, compensationsKey{}, undo), key, state, node, resume, history, step)
	if err != nil {
		undo.unwind(context.WithoutCancel(ctx), e.logger, key)
	}
	return res, err
}

func (e *Executor[S]) walk(ctx context.Context, key string, state S, node string, resume Resume, history []string, step int) (*Result[S], error) {
	ctx = WithSessionKey(ctx, key)
	res := &Result[S]{}
	history = append([]string(nil), history...)
	executed := 0

	for {
		if executed >= e.maxSteps {
			return nil, &StepLimitError{Graph: e.graph.name, Key: key, Limit: e.maxSteps}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		executed++
		step++
		if e.hooks.OnNodeEnter != nil {
			e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: e.event(domain.EventNodeEnter, key), NodeID: node, Step: step})
		}
		e.logger.Debug("entering node", "key", key, "node", node, "step", step)

		cmd, err := e.graph.nodes[node](ctx, state, resume)
		resume = Resume{}
		if err != nil {
			e.logger.Error("node failed", "key", key, "node", node, "error", err)
			return nil, err
		}

		state = e.graph.reducer(state, cmd.Update)
		res.Path = append(res.Path, node)
		res.Steps = append(res.Steps, Step[S]{Node: node, Update: cmd.Update})
		history = append(history, node)
		if e.hooks.OnNodeLeave != nil {
			e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{EventBase: e.event(domain.EventNodeLeave, key), NodeID: node, Step: step})
		}

		if cmd.interrupt {
			return e.suspend(ctx, key, node, state, cmd.value, history, step, res)
		}

		next, err := e.graph.next(ctx, node, state, cmd)
		if err != nil {
			e.logger.Error("routing failed", "key", key, "node", node, "error", err)
			return nil, err
		}

		if next == End {
			if err := e.commit(ctx, key, node, domain.CheckpointCompleted, "", state, history, step); err != nil {
				return nil, err
			}
			if e.hooks.OnComplete != nil {
				e.hooks.OnComplete(ctx, &domain.NodeEvent{EventBase: e.event(domain.EventComplete, key), NodeID: node, Step: step})
			}
			e.logger.Debug("turn completed", "key", key, "node", node, "steps", executed)
			res.Status = StatusCompleted
			res.State = state
			return res, nil
		}

		if e.stepCheckpoints {
			if err := e.commit(ctx, key, next, domain.CheckpointActive, "", state, history, step); err != nil {
				return nil, err
			}
			compensationsFrom(ctx).clear()
		}
		node = next
	}
}

func (e *Executor[S]) suspend(ctx context.Context, key, node string, state S, value any, history []string, step int, res *Result[S]) (*Result[S], error) {
	tok := domain.InterruptToken{
		SessionID: key,
		Namespace: node,
		Value:     value,
		CreatedAt: e.now(),
	}
	if err := e.interrupts.Put(ctx, tok); err != nil {
		return nil, fmt.Errorf("register interrupt: %w", err)
	}
	if err := e.commit(ctx, key, node, domain.CheckpointSuspended, node, state, history, step); err != nil {
		if _, terr := e.interrupts.Take(ctx, key); terr != nil {
			e.logger.Error("failed to roll back interrupt", "key", key, "error", terr)
		}
		return nil, err
	}
	if e.hooks.OnSuspend != nil {
		e.hooks.OnSuspend(ctx, &domain.InterruptEvent{EventBase: e.event(domain.EventSuspend, key), Token: tok})
	}
	e.logger.Info("run suspended", "key", key, "node", node)

	res.Status = StatusSuspended
	res.State = state
	res.Interrupt = &tok
	return res, nil
}

func (e *Executor[S]) commit(ctx context.Context, key, node string, status domain.CheckpointStatus, namespace string, state S, history []string, step int) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := &domain.Checkpoint{
		Key:       key,
		Graph:     e.graph.name,
		NodeID:    node,
		Status:    status,
		Namespace: namespace,
		Step:      step,
		History:   history,
		State:     raw,
		UpdatedAt: e.now(),
	}
	if err := e.store.Save(ctx, key, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// load returns the committed checkpoint and decoded state, or nil and the zero state.
func (e *Executor[S]) load(ctx context.Context, key string) (*domain.Checkpoint, S, error) {
	var state S
	cp, err := e.store.Load(ctx, key)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return nil, state, nil
	}
	if err != nil {
		return nil, state, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &state); err != nil {
			return nil, state, fmt.Errorf("decode state of '%s': %w", key, err)
		}
	}
	return cp, state, nil
}

func (e *Executor[S]) restore(ctx context.Context, tok *domain.InterruptToken) {
	if err := e.interrupts.Put(ctx, *tok); err != nil {
		e.logger.Error("failed to restore interrupt", "key", tok.SessionID, "error", err)
	}
}

func (e *Executor[S]) event(t domain.EventType, key string) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, Graph: e.graph.name, Key: key}
}
