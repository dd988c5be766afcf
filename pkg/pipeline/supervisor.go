package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/session"
	"github.com/google/uuid"
)

// GraphName names the pipeline graph in checkpoints and metrics.
const GraphName = "pipeline"

// ErrRunInProgress is returned by Start when the run id already has an unfinished run.
var ErrRunInProgress = errors.New("pipeline run is already in progress")

// Run is the outcome of a Start, Continue or Unblock call.
type Run struct {
	RunID     string
	Completed bool
	// Stage is the last stage entered.
	Stage        domain.Stage
	State        domain.PipelineTaskState
	Intervention *domain.Intervention
	Steps        []graph.Step[domain.PipelineTaskState]
}

// Supervisor runs pipeline tasks through the fixed stage sequence.
type Supervisor struct {
	exec     *graph.Executor[domain.PipelineTaskState]
	stages   *stageMachine
	sessions *session.Manager
	logger   *slog.Logger
	now      func() time.Time
}

type supervisorOptions struct {
	logger    *slog.Logger
	sessions  *session.Manager
	retryCap  int
	now       func() time.Time
	execOpts  []graph.ExecutorOption
	stageOpts []graph.ExecutorOption
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*supervisorOptions)

func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(o *supervisorOptions) {
		o.logger = logger
	}
}

// WithSessionManager shares a session manager so runs and chats lock through one place.
func WithSessionManager(m *session.Manager) SupervisorOption {
	return func(o *supervisorOptions) {
		o.sessions = m
	}
}

// WithLifetimeRetryCap aborts a stage with *RetryCapError after n failures in total.
// Zero, the default, never aborts: every escalation resets the auto-resume budget.
func WithLifetimeRetryCap(n int) SupervisorOption {
	return func(o *supervisorOptions) {
		o.retryCap = n
	}
}

func WithClock(now func() time.Time) SupervisorOption {
	return func(o *supervisorOptions) {
		o.now = now
	}
}

// WithExecutorOptions forwards options to both the run and the stage executors.
func WithExecutorOptions(opts ...graph.ExecutorOption) SupervisorOption {
	return func(o *supervisorOptions) {
		o.execOpts = append(o.execOpts, opts...)
		o.stageOpts = append(o.stageOpts, opts...)
	}
}

// NewSupervisor builds the pipeline graph and its stage machine.
func NewSupervisor(store ports.CheckpointStore, interrupts ports.InterruptRegistry, classifier ports.OutcomeClassifier, opts ...SupervisorOption) (*Supervisor, error) {
	if classifier == nil {
		return nil, errors.New("pipeline supervisor needs an outcome classifier")
	}
	o := supervisorOptions{logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessions == nil {
		o.sessions = session.NewManager(session.WithLogger(o.logger))
	}

	stages, err := newStageMachine(store, interrupts, classifier, o.retryCap, o.logger, o.stageOpts...)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		stages:   stages,
		sessions: o.sessions,
		logger:   o.logger,
		now:      o.now,
	}

	b := graph.NewBuilder[domain.PipelineTaskState](GraphName, domain.MergePipelineTask)
	for i, stage := range domain.Stages {
		b.AddNode(string(stage), s.stageNode(stage))
		if i > 0 {
			b.AddEdge(string(domain.Stages[i-1]), string(stage))
		}
	}
	last := domain.Stages[len(domain.Stages)-1]
	g, err := b.SetEntry(string(domain.Stages[0])).
		AddEdge(string(last), graph.End).
		Compile()
	if err != nil {
		return nil, err
	}

	execOpts := append([]graph.ExecutorOption{graph.WithLogger(o.logger), graph.WithStepCheckpoints()}, o.execOpts...)
	s.exec = graph.NewExecutor(g, store, interrupts, execOpts...)
	return s, nil
}

// Start runs a task from the first stage until it completes or a stage needs a human.
// An empty runID gets a new UUID. The run's job id and creation date are stamped
// into the task arguments unless already set.
func (s *Supervisor) Start(ctx context.Context, runID string, task domain.PipelineTaskState) (*Run, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	var run *Run
	err := s.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		snap, err := s.exec.Inspect(ctx, runID)
		if err != nil && !errors.Is(err, domain.ErrCheckpointNotFound) {
			return err
		}
		if snap != nil && snap.Checkpoint.Status != domain.CheckpointCompleted {
			return fmt.Errorf("%w: '%s'", ErrRunInProgress, runID)
		}

		initial := task
		initial.Args = task.Args.Clone()
		if initial.Args == nil {
			initial.Args = make(domain.Args)
		}
		initial.Args.Set(domain.KeyJobID, runID)
		initial.Args.Set(domain.KeyCreateDate, s.now().Format(time.DateOnly))
		initial.Messages = domain.CloneMessages(task.Messages)

		s.logger.Info("starting pipeline run", "run_id", runID)
		res, err := s.exec.Run(ctx, runID, func(domain.PipelineTaskState) domain.PipelineTaskState {
			return initial
		})
		if err != nil {
			return err
		}
		run = newRun(runID, res)
		return nil
	})
	return run, err
}

// Continue picks up a run whose process stopped between stages.
func (s *Supervisor) Continue(ctx context.Context, runID string) (*Run, error) {
	var run *Run
	err := s.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		res, err := s.exec.Run(ctx, runID, nil)
		if err != nil {
			return err
		}
		run = newRun(runID, res)
		return nil
	})
	return run, err
}

// Unblock answers the human intervention a run is waiting for and continues it.
func (s *Supervisor) Unblock(ctx context.Context, runID, note string) (*Run, error) {
	var run *Run
	err := s.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		res, err := s.exec.Resume(ctx, runID, note)
		if err != nil {
			return err
		}
		run = newRun(runID, res)
		return nil
	})
	return run, err
}

// Status returns the committed state of a run.
func (s *Supervisor) Status(ctx context.Context, runID string) (*graph.Snapshot[domain.PipelineTaskState], error) {
	return s.exec.Inspect(ctx, runID)
}

// StageStatus returns the committed retry machine of one stage of a run.
func (s *Supervisor) StageStatus(ctx context.Context, runID string, stage domain.Stage) (*graph.Snapshot[domain.StageState], error) {
	return s.stages.exec.Inspect(ctx, StageKey(runID, stage))
}

// Graph returns the stage sequence graph.
func (s *Supervisor) Graph() *graph.Graph[domain.PipelineTaskState] { return s.exec.Graph() }

// StageGraph returns the per-stage retry/escalation graph.
func (s *Supervisor) StageGraph() *graph.Graph[domain.StageState] { return s.stages.exec.Graph() }

// stageNode delegates a stage to the stage machine. Only the stage's new log
// entries flow back into the task; retry counters stay in the stage checkpoint.
func (s *Supervisor) stageNode(stage domain.Stage) graph.NodeFunc[domain.PipelineTaskState] {
	return func(ctx context.Context, state domain.PipelineTaskState, resume graph.Resume) (graph.Command[domain.PipelineTaskState], error) {
		runID, _ := graph.SessionKey(ctx)

		var res *graph.Result[domain.StageState]
		var err error
		if resume.Resumed {
			res, err = s.stages.resume(ctx, runID, stage, resume.Value)
		} else {
			s.logger.Info("entering stage", "run_id", runID, "stage", stage)
			res, err = s.stages.run(ctx, runID, stage, state)
		}
		if err != nil {
			return graph.Command[domain.PipelineTaskState]{}, err
		}

		u := state.Fork()
		u.Args = nil
		u.Current = stage
		if n := len(state.Messages); len(res.State.Messages) > n {
			u.Messages = res.State.Messages[n:]
		}
		if res.Status == graph.StatusSuspended {
			return graph.Interrupt(u, res.Interrupt.Value), nil
		}
		return graph.Continue(u), nil
	}
}

func newRun(runID string, res *graph.Result[domain.PipelineTaskState]) *Run {
	run := &Run{
		RunID:     runID,
		Completed: res.Status == graph.StatusCompleted,
		Stage:     res.State.Current,
		State:     res.State,
		Steps:     res.Steps,
	}
	if res.Interrupt != nil {
		if iv, ok := res.Interrupt.Value.(domain.Intervention); ok {
			run.Intervention = &iv
		}
	}
	return run
}
