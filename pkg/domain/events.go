package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter EventType = "node_enter"
	EventNodeLeave EventType = "node_leave"
	EventSuspend   EventType = "suspend"
	EventResume    EventType = "resume"
	EventComplete  EventType = "complete"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Graph     string    `json:"graph"`
	Key       string    `json:"key"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID string `json:"node_id"`
	Step   int    `json:"step"`
}

// InterruptEvent represents a suspension or a resume.
type InterruptEvent struct {
	EventBase
	Token InterruptToken `json:"token"`
}

// LifecycleHooks defines callbacks for executor observability.
type LifecycleHooks struct {
	OnNodeEnter func(context.Context, *NodeEvent)
	OnNodeLeave func(context.Context, *NodeEvent)
	OnSuspend   func(context.Context, *InterruptEvent)
	OnResume    func(context.Context, *InterruptEvent)
	OnComplete  func(context.Context, *NodeEvent)
}

// ChainHooks fans every callback out to each of the given hooks in order.
func ChainHooks(hooks ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeEnter != nil {
					h.OnNodeEnter(ctx, e)
				}
			}
		},
		OnNodeLeave: func(ctx context.Context, e *NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeLeave != nil {
					h.OnNodeLeave(ctx, e)
				}
			}
		},
		OnSuspend: func(ctx context.Context, e *InterruptEvent) {
			for _, h := range hooks {
				if h.OnSuspend != nil {
					h.OnSuspend(ctx, e)
				}
			}
		},
		OnResume: func(ctx context.Context, e *InterruptEvent) {
			for _, h := range hooks {
				if h.OnResume != nil {
					h.OnResume(ctx, e)
				}
			}
		},
		OnComplete: func(ctx context.Context, e *NodeEvent) {
			for _, h := range hooks {
				if h.OnComplete != nil {
					h.OnComplete(ctx, e)
				}
			}
		},
	}
}
