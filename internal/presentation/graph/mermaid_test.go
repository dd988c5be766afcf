package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/tether/internal/presentation/graph"
	tgraph "github.com/aretw0/tether/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type empty struct{}

func noop(ctx context.Context, s empty, _ tgraph.Resume) (tgraph.Command[empty], error) {
	return tgraph.Continue(s), nil
}

func sample(t *testing.T) *tgraph.Graph[empty] {
	t.Helper()
	g, err := tgraph.NewBuilder[empty]("sample", func(_, u empty) empty { return u }).
		AddNode("chat", noop).
		AddNode("md5-checking", noop).
		AddNode("human-intervention", noop).
		AddConditionalEdge("chat", func(context.Context, empty) (string, error) { return tgraph.End, nil },
			"md5-checking", "human-intervention", tgraph.End).
		AddEdge("md5-checking", tgraph.End).
		AddEdge("human-intervention", "md5-checking").
		SetEntry("chat").
		Compile()
	require.NoError(t, err)
	return g
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(sample(t), nil)

	for _, want := range []string{
		"graph TD\n",
		"chat((\"chat\"))",
		"md5_checking[\"md5-checking\"]",
		"human_intervention[\"human-intervention\"]",
		"chat -.-> md5_checking",
		"chat -.-> end_",
		"human_intervention --> md5_checking",
		"md5_checking --> end_",
		"end_(((\"end\")))",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "classDef")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	out := graph.GenerateMermaid(sample(t), &graph.GraphOverlay{
		VisitedNodes: []string{"chat", "human-intervention", "chat"},
		CurrentNode:  "human-intervention",
		Suspended:    true,
	})

	assert.Equal(t, 1, strings.Count(out, "class chat visited;"))
	assert.Contains(t, out, "class human_intervention suspended;")
	assert.NotContains(t, out, "class human_intervention current;")
}
