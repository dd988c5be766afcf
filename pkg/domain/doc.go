/*
Package domain contains the core domain models of the Tether orchestrator.

It defines the state values that flow through the executor graphs, the
checkpoint and interrupt records that make a session durable and resumable,
and the lifecycle hooks used for observability. The package holds no I/O.

# Key Entities

  - ConversationState: the dialogue router's state (message log, action, interrupted flag).
  - PipelineTaskState: the conversation state plus the task arguments of a pipeline run.
  - StageState: the isolated state of one stage supervisor run.
  - Checkpoint: the last committed snapshot of a session key.
  - InterruptToken: the pending suspension of a session.
*/
package domain
