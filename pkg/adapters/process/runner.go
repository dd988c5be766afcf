// Package process runs pipeline stage jobs as local processes.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

// ExitHumanIntervention is the exit code a job uses to ask for a human.
const ExitHumanIntervention = 3

const stderrTail = 512

// Classifier implements ports.OutcomeClassifier by running the job registered
// for a stage and mapping its exit status to an outcome: 0 completes the stage,
// ExitHumanIntervention escalates it, anything else fails it.
// Only registered commands run (allow-list); task arguments reach the job as
// TETHER_ARG_* environment variables, never as command line flags.
type Classifier struct {
	jobs     map[string]StageCommand
	baseDir  string
	timeout  time.Duration
	fallback ports.OutcomeClassifier
	logger   *slog.Logger
}

// ClassifierOption configures the classifier.
type ClassifierOption func(*Classifier)

// WithJobs populates the allow-list from a loaded config.
func WithJobs(jobs map[string]StageCommand) ClassifierOption {
	return func(c *Classifier) {
		for stage, job := range jobs {
			c.jobs[stage] = job
		}
	}
}

// WithBaseDir sets the working directory for jobs whose task names none.
func WithBaseDir(dir string) ClassifierOption {
	return func(c *Classifier) {
		c.baseDir = dir
	}
}

// WithTimeout fails a job that runs longer than d.
func WithTimeout(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		c.timeout = d
	}
}

// WithFallback classifies stages without a registered job. Without one they complete.
func WithFallback(f ports.OutcomeClassifier) ClassifierOption {
	return func(c *Classifier) {
		c.fallback = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier creates a job running classifier.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		jobs:   make(map[string]StageCommand),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a trusted command for a stage to the allow-list.
func (c *Classifier) Register(stage domain.Stage, command string, args ...string) {
	c.jobs[string(stage)] = StageCommand{Stage: string(stage), Command: command, Args: args}
}

// Classify runs the stage's job and maps its exit status.
func (c *Classifier) Classify(ctx context.Context, runID string, state domain.StageState) (domain.StageOutcome, error) {
	job, ok := c.jobs[string(state.Stage)]
	if !ok {
		if c.fallback != nil {
			return c.fallback.Classify(ctx, runID, state)
		}
		return domain.StatusCompleted, nil
	}

	jobCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(jobCtx, job.Command, job.Args...)
	cmd.Dir = c.baseDir
	if dir, ok := state.Args.Get(domain.KeyWorkingDir); ok && c.baseDir == "" {
		cmd.Dir = dir
	}
	cmd.Env = append(cmd.Environ(), jobEnv(runID, state, job)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	logger := c.logger.With("run_id", runID, "stage", state.Stage, "command", job.Command)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("stage job succeeded", "duration", time.Since(start))
		return domain.StatusCompleted, nil
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		logger.Warn("stage job timed out", "timeout", c.timeout)
		return domain.StatusFailed, nil
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		logger.Warn("stage job failed", "exit_code", code, "stderr", tail(stderr.String()))
		if code == ExitHumanIntervention {
			return domain.StatusHumanIntervention, nil
		}
		return domain.StatusFailed, nil
	default:
		return "", fmt.Errorf("failed to start job for stage '%s': %w", state.Stage, err)
	}
}

// jobEnv exposes the run to the job. Values of stage arguments that are not
// primitives are passed as JSON.
func jobEnv(runID string, state domain.StageState, job StageCommand) []string {
	env := []string{
		"TETHER_RUN_ID=" + runID,
		"TETHER_STAGE=" + string(state.Stage),
		fmt.Sprintf("TETHER_ATTEMPT=%d", state.Failures+1),
	}
	for _, k := range sortedKeys(state.Args) {
		env = append(env, fmt.Sprintf("TETHER_ARG_%s=%s", envName(k), state.Args[k]))
	}
	for k, v := range state.StageArgs {
		env = append(env, fmt.Sprintf("TETHER_STAGE_ARG_%s=%s", envName(k), envValue(v)))
	}
	for k, v := range job.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

func envValue(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

func sortedKeys(args domain.Args) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return s[len(s)-stderrTail:]
	}
	return s
}
