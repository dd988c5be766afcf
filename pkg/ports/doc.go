/*
Package ports defines the driven ports (interfaces) of the Tether orchestrator.

These interfaces decouple the executor and its graphs from storage backends,
lock providers and the stage outcome source.

# Key Interfaces

  - CheckpointStore: persists the latest checkpoint per session key.
  - InterruptRegistry: maps a session to at most one pending interrupt token.
  - DistributedLocker: coordinates per-session access across replicas.
  - OutcomeClassifier: decides how one execution of a pipeline stage ended.
*/
package ports
