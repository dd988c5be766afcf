/*
Package observability exports Prometheus metrics for graph executions.

Metrics are fed by domain.LifecycleHooks, so any executor (dialogue, pipeline
or stage) is instrumented by passing Metrics.Hooks to graph.WithLifecycleHooks.
*/
package observability
