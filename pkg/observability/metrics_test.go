package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	N int `json:"n"`
}

func newExecutor(t *testing.T, m *observability.Metrics) *graph.Executor[counterState] {
	t.Helper()
	ask := func(ctx context.Context, s counterState, r graph.Resume) (graph.Command[counterState], error) {
		if !r.Resumed {
			return graph.Interrupt(s, "continue?"), nil
		}
		s.N++
		return graph.Continue(s), nil
	}
	inc := func(ctx context.Context, s counterState, _ graph.Resume) (graph.Command[counterState], error) {
		s.N++
		return graph.Continue(s), nil
	}
	g, err := graph.NewBuilder[counterState]("counter", func(_, u counterState) counterState { return u }).
		AddNode("inc", inc).
		AddNode("ask", ask).
		SetEntry("inc").
		AddEdge("inc", "ask").
		AddEdge("ask", graph.End).
		Compile()
	require.NoError(t, err)
	return graph.NewExecutor(g, memory.NewStore(), memory.NewRegistry(), graph.WithLifecycleHooks(m.Hooks()))
}

func TestMetrics_RecordsLifecycle(t *testing.T) {
	m := observability.NewMetrics()
	exec := newExecutor(t, m)
	ctx := context.Background()

	_, err := exec.Run(ctx, "k", nil)
	require.NoError(t, err)
	_, err = exec.Resume(ctx, "k", "yes")
	require.NoError(t, err)

	expected := `
# HELP tether_node_visits_total Total number of node executions
# TYPE tether_node_visits_total counter
tether_node_visits_total{graph="counter",node="ask"} 2
tether_node_visits_total{graph="counter",node="inc"} 1
# HELP tether_resumes_total Total number of suspended runs resumed
# TYPE tether_resumes_total counter
tether_resumes_total{graph="counter"} 1
# HELP tether_runs_completed_total Total number of runs that reached the end of their graph
# TYPE tether_runs_completed_total counter
tether_runs_completed_total{graph="counter"} 1
# HELP tether_suspensions_total Total number of runs suspended for human input
# TYPE tether_suspensions_total counter
tether_suspensions_total{graph="counter",namespace="ask"} 1
`
	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"tether_node_visits_total", "tether_resumes_total", "tether_runs_completed_total", "tether_suspensions_total")
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "tether_node_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NodeDuration(t *testing.T) {
	m := observability.NewMetrics()
	hooks := m.Hooks()
	start := time.Now()
	base := domain.EventBase{Graph: "g", Key: "k"}

	enter := base
	enter.Timestamp = start
	hooks.OnNodeEnter(context.Background(), &domain.NodeEvent{EventBase: enter, NodeID: "n"})
	leave := base
	leave.Timestamp = start.Add(2 * time.Second)
	hooks.OnNodeLeave(context.Background(), &domain.NodeEvent{EventBase: leave, NodeID: "n"})

	// A leave without a matching enter records nothing.
	hooks.OnNodeLeave(context.Background(), &domain.NodeEvent{EventBase: leave, NodeID: "n"})

	count, err := testutil.GatherAndCount(m.Registry(), "tether_node_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.Hooks().OnComplete(context.Background(), &domain.NodeEvent{EventBase: domain.EventBase{Graph: "dialogue"}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tether_runs_completed_total{graph="dialogue"} 1`)
}
