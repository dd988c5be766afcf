// Package pipeline runs sequencing analysis tasks.
//
// A task passes through the nine stages of domain.Stages in order. Each stage
// runs as its own small state machine (init, running, failed, auto-resume,
// human-intervention, completed) under the key "<run>/stage/<stage>":
//
//	init -> running -> completed
//	           |
//	           v
//	        failed -> auto-resume -> running          (at most MaxAutoResumes times)
//	           |
//	           v
//	 human-intervention -> (suspend) -> running
//
// How a stage execution ended is decided by a ports.OutcomeClassifier. The
// Supervisor copies each stage's log back into the task and lifts a stage's
// suspension to the run, so an operator unblocks the run, not the stage.
//
// The package also owns the conversational intake of a task: the dialogue
// "pipeline" node that extracts task arguments from model replies into a
// TaskStore.
package pipeline
