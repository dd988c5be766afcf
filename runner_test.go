package tether_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_ChatAndRun(t *testing.T) {
	app := newApp(t, config.Default(), tether.WithClassifier(pipeline.NewScriptedClassifier()))
	var out bytes.Buffer
	r := &tether.Runner{
		Input:    strings.NewReader("hello\n\nstart project STING_UNLOCK\n/run\nexit\nignored\n"),
		Output:   &out,
		Headless: true,
		Renderer: func(s string) (string, error) { return "** " + s, nil },
	}

	sid, err := r.Run(context.Background(), app, "")
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	text := out.String()
	assert.Contains(t, text, "** Hello! How can I help?")
	assert.Contains(t, text, "** All parameters are collected")
	assert.Contains(t, text, "[notify] completed")
	assert.Contains(t, text, "completed\n")
	assert.NotContains(t, text, "Bye!")
}

func TestRunner_RunBeforeTaskIsReady(t *testing.T) {
	app := newApp(t, config.Default())
	var out bytes.Buffer
	r := &tether.Runner{Input: strings.NewReader("/run\nhello\n/run"), Output: &out}

	_, err := r.Run(context.Background(), app, "")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "nothing to run yet")
	assert.Contains(t, out.String(), "the task still needs: project_name")
	assert.True(t, strings.HasPrefix(out.String(), "> "))
}

func TestRunner_Reset(t *testing.T) {
	app := newApp(t, config.Default())
	var out bytes.Buffer
	r := &tether.Runner{Input: strings.NewReader("hello\n/reset\n"), Output: &out, Headless: true}

	sid, err := r.Run(context.Background(), app, "")
	require.NoError(t, err)
	assert.Empty(t, sid)
	sessions, err := app.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRunner_RequiresIO(t *testing.T) {
	_, err := (&tether.Runner{}).Run(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestRunner_ShowAndClearTask(t *testing.T) {
	app := newApp(t, config.Default())
	var out bytes.Buffer
	r := &tether.Runner{
		Input:    strings.NewReader("/task\nstart project STING_UNLOCK\n/task\n/new\n/task\n/run\n"),
		Output:   &out,
		Headless: true,
	}

	sid, err := r.Run(context.Background(), app, "")
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "nothing collected yet")
	assert.Contains(t, text, "project_name: STING_UNLOCK")
	assert.Contains(t, text, "task cleared")
	assert.Contains(t, text, "still needed: project_name")
	assert.Contains(t, text, "the task still needs: project_name")

	task, err := app.Task(context.Background(), sid)
	require.NoError(t, err)
	assert.Empty(t, task.Args)
	_, err = app.Router.Inspect(context.Background(), sid)
	assert.NoError(t, err, "clearing the task keeps the conversation")
}
