package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/ports"
)

// StageGraphName names the stage machine in checkpoints and metrics.
const StageGraphName = "stage"

// MaxAutoResumes is how many times a failed stage is retried before a human is asked.
const MaxAutoResumes = 2

// RetryCapError aborts a stage that failed more often than the lifetime cap allows.
type RetryCapError struct {
	Stage    domain.Stage
	Failures int
	Cap      int
}

func (e *RetryCapError) Error() string {
	return fmt.Sprintf("stage '%s' failed %d times, lifetime cap is %d", e.Stage, e.Failures, e.Cap)
}

// StageKey is the checkpoint key of one stage of a run.
func StageKey(runID string, stage domain.Stage) string {
	return fmt.Sprintf("%s/stage/%s", runID, stage)
}

type stageMachine struct {
	exec       *graph.Executor[domain.StageState]
	classifier ports.OutcomeClassifier
	retryCap   int
	logger     *slog.Logger
}

func newStageMachine(store ports.CheckpointStore, interrupts ports.InterruptRegistry, classifier ports.OutcomeClassifier, retryCap int, logger *slog.Logger, execOpts ...graph.ExecutorOption) (*stageMachine, error) {
	m := &stageMachine{classifier: classifier, retryCap: retryCap, logger: logger}

	initial, running := string(domain.StatusInit), string(domain.StatusRunning)
	completed, failed := string(domain.StatusCompleted), string(domain.StatusFailed)
	autoResume, intervention := string(domain.StatusAutoResume), string(domain.StatusHumanIntervention)

	g, err := graph.NewBuilder[domain.StageState](StageGraphName, domain.MergeStage).
		AddNode(initial, m.nodeInit).
		AddNode(running, m.nodeRunning).
		AddNode(completed, m.nodeCompleted).
		AddNode(failed, m.nodeFailed).
		AddNode(autoResume, m.nodeAutoResume).
		AddNode(intervention, m.nodeIntervention).
		SetEntry(initial).
		AddEdge(initial, running).
		AddConditionalEdge(running, routeRunning, completed, failed, intervention).
		AddConditionalEdge(failed, routeFailed, autoResume, intervention).
		AddEdge(autoResume, running).
		AddEdge(intervention, running).
		AddEdge(completed, graph.End).
		Compile()
	if err != nil {
		return nil, err
	}

	opts := append([]graph.ExecutorOption{graph.WithLogger(logger)}, execOpts...)
	m.exec = graph.NewExecutor(g, store, interrupts, opts...)
	return m, nil
}

// run executes a stage from scratch, seeded with the parent's message log and arguments.
func (m *stageMachine) run(ctx context.Context, runID string, stage domain.Stage, parent domain.PipelineTaskState) (*graph.Result[domain.StageState], error) {
	key := StageKey(runID, stage)
	if err := m.exec.Reset(ctx, key); err != nil {
		return nil, err
	}
	return m.exec.Run(ctx, key, func(domain.StageState) domain.StageState {
		return domain.StageState{
			RunID:     runID,
			Stage:     stage,
			Messages:  domain.CloneMessages(parent.Messages),
			Execute:   parent.ShouldExecute(stage),
			Args:      parent.Args.Clone(),
			StageArgs: parent.Stages[stage].Args,
		}
	})
}

// resume continues a stage waiting for a human with the operator's note.
func (m *stageMachine) resume(ctx context.Context, runID string, stage domain.Stage, note any) (*graph.Result[domain.StageState], error) {
	return m.exec.Resume(ctx, StageKey(runID, stage), note)
}

func logEntry(stage domain.Stage, text string) *domain.Message {
	return domain.AssistantMessage(fmt.Sprintf("[%s] %s", stage, text))
}

func (m *stageMachine) nodeInit(ctx context.Context, s domain.StageState, _ graph.Resume) (graph.Command[domain.StageState], error) {
	u := s.Fork()
	if !s.Execute {
		u.Messages = []*domain.Message{logEntry(s.Stage, "skipped")}
		return graph.Goto(u, string(domain.StatusCompleted)), nil
	}
	u.Messages = []*domain.Message{logEntry(s.Stage, "init")}
	return graph.Continue(u), nil
}

func (m *stageMachine) nodeRunning(ctx context.Context, s domain.StageState, _ graph.Resume) (graph.Command[domain.StageState], error) {
	outcome, err := m.classifier.Classify(ctx, s.RunID, s)
	if err != nil {
		return graph.Command[domain.StageState]{}, fmt.Errorf("classify stage '%s': %w", s.Stage, err)
	}
	m.logger.Info("stage outcome", "run_id", s.RunID, "stage", s.Stage, "outcome", outcome)

	u := s.Fork()
	u.Messages = []*domain.Message{logEntry(s.Stage, "running")}
	u.Outcome = outcome
	return graph.Continue(u), nil
}

func (m *stageMachine) nodeCompleted(ctx context.Context, s domain.StageState, _ graph.Resume) (graph.Command[domain.StageState], error) {
	u := s.Fork()
	u.Outcome = domain.StatusCompleted
	if s.Execute {
		u.Messages = []*domain.Message{logEntry(s.Stage, "completed")}
	}
	return graph.Continue(u), nil
}

func (m *stageMachine) nodeFailed(ctx context.Context, s domain.StageState, _ graph.Resume) (graph.Command[domain.StageState], error) {
	u := s.Fork()
	u.Failures++
	if m.retryCap > 0 && u.Failures >= m.retryCap {
		return graph.Command[domain.StageState]{}, &RetryCapError{Stage: s.Stage, Failures: u.Failures, Cap: m.retryCap}
	}
	u.Messages = []*domain.Message{logEntry(s.Stage, "failed")}
	return graph.Continue(u), nil
}

func (m *stageMachine) nodeAutoResume(ctx context.Context, s domain.StageState, _ graph.Resume) (graph.Command[domain.StageState], error) {
	u := s.Fork()
	u.ResumeCount++
	u.Messages = []*domain.Message{logEntry(s.Stage, fmt.Sprintf("auto resume %d/%d", u.ResumeCount, MaxAutoResumes))}
	return graph.Continue(u), nil
}

// nodeIntervention suspends until an operator unblocks the stage, then retries it.
func (m *stageMachine) nodeIntervention(ctx context.Context, s domain.StageState, resume graph.Resume) (graph.Command[domain.StageState], error) {
	u := s.Fork()
	if resume.Resumed {
		note := fmt.Sprint(resume.Value)
		u.Messages = []*domain.Message{domain.HumanMessage(note)}
		m.logger.Info("stage unblocked", "run_id", s.RunID, "stage", s.Stage)
		return graph.Continue(u), nil
	}

	u.ResumeCount = 0
	u.Interventions++
	text := fmt.Sprintf("stage %s needs manual intervention after %d failures", s.Stage, s.Failures)
	u.Messages = []*domain.Message{logEntry(s.Stage, "human intervention")}
	m.logger.Warn("stage escalated", "run_id", s.RunID, "stage", s.Stage, "failures", s.Failures)
	return graph.Interrupt(u, domain.Intervention{
		Stage:         s.Stage,
		Failures:      s.Failures,
		Interventions: u.Interventions,
		Message:       text,
	}), nil
}

func routeRunning(_ context.Context, s domain.StageState) (string, error) {
	return string(s.Outcome), nil
}

func routeFailed(_ context.Context, s domain.StageState) (string, error) {
	if s.ResumeCount < MaxAutoResumes {
		return string(domain.StatusAutoResume), nil
	}
	return string(domain.StatusHumanIntervention), nil
}
