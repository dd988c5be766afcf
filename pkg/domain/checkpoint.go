package domain

import (
	"encoding/json"
	"time"
)

// CheckpointStatus describes where a committed run stopped.
type CheckpointStatus string

const (
	CheckpointActive    CheckpointStatus = "active"    // committed mid-run, NodeID is the next node to execute
	CheckpointSuspended CheckpointStatus = "suspended" // NodeID raised an interrupt
	CheckpointCompleted CheckpointStatus = "completed" // NodeID was the last node executed
)

// Checkpoint is the latest committed snapshot of one session key.
type Checkpoint struct {
	Key       string           `json:"key"`
	Graph     string           `json:"graph"`
	NodeID    string           `json:"node_id"`
	Status    CheckpointStatus `json:"status"`
	Namespace string           `json:"namespace,omitempty"`
	Step      int              `json:"step"`
	History   []string         `json:"history,omitempty"`
	State     json.RawMessage  `json:"state"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so stores never share buffers with callers.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	if c.History != nil {
		out.History = append([]string(nil), c.History...)
	}
	if c.State != nil {
		out.State = append(json.RawMessage(nil), c.State...)
	}
	return &out
}

// InterruptToken is the pending suspension of a session.
type InterruptToken struct {
	SessionID string    `json:"session_id"`
	Namespace string    `json:"namespace"`
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
