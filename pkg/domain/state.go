package domain

// Action is the task domain the dialogue is currently routed to.
type Action string

const (
	ActionNone     Action = "none"
	ActionPipeline Action = "pipeline"
	ActionMedical  Action = "medical"
)

// IsTask reports whether the action names one of the task domains.
func (a Action) IsTask() bool {
	return a == ActionPipeline || a == ActionMedical
}

// ParseAction maps a classifier reply onto a task action.
// Replies that are not a task domain yield ActionNone and false.
func ParseAction(reply string) (Action, bool) {
	a := Action(reply)
	if a.IsTask() {
		return a, true
	}
	return ActionNone, false
}

// TopicChange is a pending confirmation raised by the dialogue router.
type TopicChange struct {
	Previous  Action `json:"previous"`
	Candidate Action `json:"candidate"`
}

// ConversationState is the state of the dialogue router.
//
// Nodes receive the full state and return an update produced by Fork:
// Messages in an update are appended to the log, every other field overwrites.
type ConversationState struct {
	Messages    []*Message   `json:"messages"`
	Action      Action       `json:"action,omitempty"`
	Interrupted bool         `json:"interrupted"`
	Pending     *TopicChange `json:"pending,omitempty"`
}

// Fork returns an update carrying the current scalars and an empty message delta.
func (s ConversationState) Fork() ConversationState {
	s.Messages = nil
	return s
}

// MergeConversation is the reducer of ConversationState.
func MergeConversation(prev, update ConversationState) ConversationState {
	out := update
	out.Messages = appendMessages(prev.Messages, update.Messages)
	return out
}

// CurrentAction returns the action, treating the zero value as ActionNone.
func (s ConversationState) CurrentAction() Action {
	if s.Action == "" {
		return ActionNone
	}
	return s.Action
}

func appendMessages(prev, delta []*Message) []*Message {
	out := make([]*Message, 0, len(prev)+len(delta))
	out = append(out, prev...)
	return append(out, delta...)
}
