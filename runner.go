package tether

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/pipeline"
)

// Runner drives a chat session over line-oriented IO.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer
}

// ContentRenderer transforms assistant text before it is written,
// e.g. markdown to ANSI.
type ContentRenderer func(string) (string, error)

const (
	cmdRun   = "/run"
	cmdReset = "/reset"
	cmdTask  = "/task"
	cmdNew   = "/new"
)

// Run reads user turns until EOF or "exit" and returns the session id used.
// "/run" starts the pipeline of the collected task and "/reset" forgets the session.
// "/task" shows the collected arguments; "/new" clears them and keeps the conversation.
func (r *Runner) Run(ctx context.Context, app *App, sessionID string) (string, error) {
	if r.Input == nil {
		return "", errors.New("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return "", errors.New("output writer must be set (use os.Stdout)")
	}
	lines := bufio.NewReader(r.Input)
	suspended := false
	if sessionID != "" {
		if snap, err := app.Router.Inspect(ctx, sessionID); err == nil {
			suspended = snap.Pending != nil
		}
	}

	for {
		if !r.Headless {
			if suspended {
				fmt.Fprint(r.Output, "? ")
			} else {
				fmt.Fprint(r.Output, "> ")
			}
		}
		text, readErr := lines.ReadString('\n')
		if readErr != nil && (text == "" || !errors.Is(readErr, io.EOF)) {
			if errors.Is(readErr, io.EOF) {
				return sessionID, nil
			}
			return sessionID, fmt.Errorf("input error: %w", readErr)
		}
		input := strings.TrimSpace(text)

		switch {
		case input == "":
		case input == "exit" || input == "quit":
			if !r.Headless {
				fmt.Fprintln(r.Output, "Bye!")
			}
			return sessionID, nil
		case input == cmdReset:
			if sessionID != "" {
				if err := app.DeleteSession(ctx, sessionID); err != nil {
					return sessionID, err
				}
			}
			sessionID, suspended = "", false
			fmt.Fprintln(r.Output, "session cleared")
		case input == cmdTask:
			if err := r.showTask(ctx, app, sessionID); err != nil {
				return sessionID, err
			}
		case input == cmdNew:
			if sessionID != "" {
				if err := app.DeleteTask(ctx, sessionID); err != nil {
					return sessionID, err
				}
			}
			fmt.Fprintln(r.Output, "task cleared")
		case input == cmdRun:
			if err := r.runPipeline(ctx, app, sessionID); err != nil {
				return sessionID, err
			}
		default:
			reply, err := app.Router.Submit(ctx, dialogue.Turn{SessionID: sessionID, Message: input})
			var invocation *domain.ModelInvocationError
			if errors.As(err, &invocation) {
				fmt.Fprintf(r.Output, "error: %v\n", err)
				continue
			}
			if err != nil {
				return sessionID, err
			}
			sessionID = reply.SessionID
			suspended = reply.Interrupt != nil
			if reply.Content != "" {
				r.write(reply.Content)
			}
		}

		if readErr != nil {
			return sessionID, nil
		}
	}
}

func (r *Runner) runPipeline(ctx context.Context, app *App, sessionID string) error {
	if sessionID == "" {
		fmt.Fprintln(r.Output, "nothing to run yet")
		return nil
	}
	run, err := app.StartPipeline(ctx, sessionID, "")
	var incomplete *pipeline.IncompleteTaskError
	if errors.As(err, &incomplete) {
		fmt.Fprintf(r.Output, "the task still needs: %s\n", strings.Join(incomplete.Missing, ", "))
		return nil
	}
	if err != nil {
		return err
	}
	for _, m := range run.State.Messages {
		if m.Role == domain.RoleAssistant {
			fmt.Fprintln(r.Output, m.Content)
		}
	}
	if run.Intervention != nil {
		fmt.Fprintf(r.Output, "run %s needs a human at stage %s: tether pipeline unblock %s <note>\n",
			run.RunID, run.Intervention.Stage, run.RunID)
		return nil
	}
	fmt.Fprintf(r.Output, "run %s completed\n", run.RunID)
	return nil
}

func (r *Runner) showTask(ctx context.Context, app *App, sessionID string) error {
	if sessionID == "" {
		fmt.Fprintln(r.Output, "nothing collected yet")
		return nil
	}
	task, err := app.Task(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, key := range domain.TaskKeys {
		if v, ok := task.Args.Get(key); ok {
			fmt.Fprintf(r.Output, "%s: %s\n", key, v)
		}
	}
	if missing := task.Args.Missing(); len(missing) > 0 {
		fmt.Fprintf(r.Output, "still needed: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

func (r *Runner) write(content string) {
	out := content
	if r.Renderer != nil {
		if rendered, err := r.Renderer(content); err == nil {
			out = rendered
		}
	}
	fmt.Fprintln(r.Output, strings.TrimSpace(out))
}
