package graph

import "context"

// End is the pseudo-node that finishes a turn.
const End = "__end__"

// Resume is handed to every node invocation.
// Resumed is true only for the node that raised the pending interrupt,
// on the invocation that answers it.
type Resume struct {
	Value   any
	Resumed bool
}

// Command is the result of a node: a state update plus what to do next.
type Command[S any] struct {
	Update S

	next      string
	interrupt bool
	value     any
}

// Continue applies the update and follows the node's outgoing edge.
func Continue[S any](update S) Command[S] {
	return Command[S]{Update: update}
}

// Goto applies the update and jumps to next, ignoring the node's edges.
func Goto[S any](update S, next string) Command[S] {
	return Command[S]{Update: update, next: next}
}

// Interrupt applies the update, commits the run and suspends it with value.
// The node is invoked again with Resume.Resumed set when the caller resumes.
func Interrupt[S any](update S, value any) Command[S] {
	return Command[S]{Update: update, interrupt: true, value: value}
}

// Interrupted reports whether the command suspends the run.
func (c Command[S]) Interrupted() bool { return c.interrupt }

// Value returns the interrupt payload.
func (c Command[S]) Value() any { return c.value }

// NodeFunc is the body of a node.
type NodeFunc[S any] func(ctx context.Context, state S, resume Resume) (Command[S], error)

// RouterFunc picks the next node of a conditional edge.
type RouterFunc[S any] func(ctx context.Context, state S) (string, error)

// Reducer folds a node update into the accumulated state.
type Reducer[S any] func(prev, update S) S

// Input builds the initial state of a turn from the committed one.
// It receives the zero value when the key has no checkpoint.
type Input[S any] func(committed S) S
