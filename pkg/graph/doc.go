// Package graph implements the resumable state-graph executor.
//
// A graph is a set of named nodes over a state type S, wired by static and
// conditional edges. Each node returns a Command: either Continue with a
// state update, or Interrupt with a value for the caller. Updates are folded
// into the state by the graph's Reducer.
//
// The Executor commits a domain.Checkpoint per session key at the end of every
// turn, so a suspended node can be re-invoked later through Resume. Turns that
// fail leave the last committed checkpoint untouched.
package graph
