package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

type conditional[S any] struct {
	router     RouterFunc[S]
	candidates []string
}

// Graph is a compiled, immutable node graph.
type Graph[S any] struct {
	name        string
	entry       string
	reducer     Reducer[S]
	nodes       map[string]NodeFunc[S]
	edges       map[string]string
	conditional map[string]conditional[S]
	terminal    map[string]bool
}

// Name returns the graph name used in checkpoints and logs.
func (g *Graph[S]) Name() string { return g.name }

// Entry returns the node every fresh turn starts at.
func (g *Graph[S]) Entry() string { return g.entry }

// Nodes returns the node names in sorted order.
func (g *Graph[S]) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Edge is one possible transition of a graph.
type Edge struct {
	From string
	To   string
	// Conditional marks a candidate of a router rather than a static edge.
	Conditional bool
}

// Edges returns every static edge and router candidate, ordered by source node.
func (g *Graph[S]) Edges() []Edge {
	var out []Edge
	for _, from := range g.Nodes() {
		if to, ok := g.edges[from]; ok {
			out = append(out, Edge{From: from, To: to})
		}
		if c, ok := g.conditional[from]; ok {
			for _, to := range c.candidates {
				out = append(out, Edge{From: from, To: to, Conditional: true})
			}
		}
	}
	return out
}

func (g *Graph[S]) has(node string) bool {
	_, ok := g.nodes[node]
	return ok
}

// next resolves the successor of node after it returned cmd.
// A terminal node always ends the turn. Routers may return End.
func (g *Graph[S]) next(ctx context.Context, node string, state S, cmd Command[S]) (string, error) {
	if g.terminal[node] {
		return End, nil
	}
	if cmd.next != "" {
		if cmd.next != End && !g.has(cmd.next) {
			return "", &RoutingError{Graph: g.name, From: node, Target: cmd.next}
		}
		return cmd.next, nil
	}
	if c, ok := g.conditional[node]; ok {
		target, err := c.router(ctx, state)
		if err != nil {
			return "", err
		}
		if target != End && !slices.Contains(c.candidates, target) {
			return "", &RoutingError{Graph: g.name, From: node, Target: target}
		}
		return target, nil
	}
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	return End, nil
}

// Builder assembles a Graph.
type Builder[S any] struct {
	g    *Graph[S]
	errs []error
}

// NewBuilder starts a graph with the given name and reducer.
func NewBuilder[S any](name string, reducer Reducer[S]) *Builder[S] {
	return &Builder[S]{
		g: &Graph[S]{
			name:        name,
			reducer:     reducer,
			nodes:       make(map[string]NodeFunc[S]),
			edges:       make(map[string]string),
			conditional: make(map[string]conditional[S]),
			terminal:    make(map[string]bool),
		},
	}
}

// AddNode registers a node body.
func (b *Builder[S]) AddNode(name string, fn NodeFunc[S]) *Builder[S] {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("invalid node name '%s'", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node '%s' has no body", name))
	case b.g.has(name):
		b.errs = append(b.errs, fmt.Errorf("duplicate node '%s'", name))
	default:
		b.g.nodes[name] = fn
	}
	return b
}

// AddEdge wires an unconditional transition. to may be End.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node '%s' already has an outgoing edge", from))
		return b
	}
	b.g.edges[from] = to
	return b
}

// AddConditionalEdge wires a router that must return one of candidates or End.
func (b *Builder[S]) AddConditionalEdge(from string, router RouterFunc[S], candidates ...string) *Builder[S] {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node '%s' already has an outgoing edge", from))
		return b
	}
	if router == nil || len(candidates) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from '%s' needs a router and candidates", from))
		return b
	}
	b.g.conditional[from] = conditional[S]{router: router, candidates: slices.Clone(candidates)}
	return b
}

// SetEntry sets the first node of a fresh turn.
func (b *Builder[S]) SetEntry(node string) *Builder[S] {
	b.g.entry = node
	return b
}

// MarkTerminal declares nodes that end the turn. A terminal node may not have
// an outgoing edge, and a Goto returned from it is ignored.
func (b *Builder[S]) MarkTerminal(nodes ...string) *Builder[S] {
	for _, n := range nodes {
		b.g.terminal[n] = true
	}
	return b
}

func (b *Builder[S]) hasOutgoing(from string) bool {
	_, static := b.g.edges[from]
	_, cond := b.g.conditional[from]
	return static || cond
}

// Compile validates the wiring and returns the graph.
// Every problem found is reported in the joined error.
func (b *Builder[S]) Compile() (*Graph[S], error) {
	g := b.g
	errs := slices.Clone(b.errs)

	if g.name == "" {
		errs = append(errs, errors.New("graph name is required"))
	}
	if g.reducer == nil {
		errs = append(errs, errors.New("reducer is required"))
	}
	if !g.has(g.entry) {
		errs = append(errs, fmt.Errorf("entry node '%s' is not defined", g.entry))
	}

	known := func(n string) bool { return n == End || g.has(n) }
	for from, to := range g.edges {
		if !g.has(from) {
			errs = append(errs, fmt.Errorf("edge from unknown node '%s'", from))
		}
		if !known(to) {
			errs = append(errs, fmt.Errorf("edge from '%s' to unknown node '%s'", from, to))
		}
	}
	for from, c := range g.conditional {
		if !g.has(from) {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node '%s'", from))
		}
		for _, to := range c.candidates {
			if !known(to) {
				errs = append(errs, fmt.Errorf("conditional edge from '%s' to unknown node '%s'", from, to))
			}
		}
	}
	for n := range g.terminal {
		if !g.has(n) {
			errs = append(errs, fmt.Errorf("terminal node '%s' is not defined", n))
		}
		_, static := g.edges[n]
		_, cond := g.conditional[n]
		if static || cond {
			errs = append(errs, fmt.Errorf("terminal node '%s' has an outgoing edge", n))
		}
	}
	for _, n := range g.Nodes() {
		_, static := g.edges[n]
		_, cond := g.conditional[n]
		if !static && !cond && !g.terminal[n] {
			errs = append(errs, fmt.Errorf("node '%s' has no outgoing edge and is not terminal", n))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("compile graph '%s': %w", g.name, err)
	}
	return g, nil
}
