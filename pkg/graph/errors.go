package graph

import "fmt"

// RoutingError is returned when a conditional edge yields an unknown target.
type RoutingError struct {
	Graph  string
	From   string
	Target string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("graph '%s': node '%s' routed to unknown target '%s'", e.Graph, e.From, e.Target)
}

// StepLimitError is returned when a turn executes more nodes than allowed.
type StepLimitError struct {
	Graph string
	Key   string
	Limit int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("graph '%s': session '%s' exceeded %d steps", e.Graph, e.Key, e.Limit)
}
