package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
)

// topicChange reports whether a classified reply asks to move a conversation
// bound to one task domain into another.
func topicChange(current domain.Action, reply string) bool {
	if !current.IsTask() {
		return false
	}
	candidate, ok := domain.ParseAction(reply)
	return ok && candidate != current
}

func (r *Router) chat(ctx context.Context, s domain.ConversationState, resume graph.Resume) (graph.Command[domain.ConversationState], error) {
	if resume.Resumed {
		return r.confirm(s, resume.Value), nil
	}

	var userMessage string
	if human, ok := domain.LastHuman(s.Messages); ok {
		userMessage = human.Content
	}

	reply, err := r.prompts.Generate(ctx, r.model, "dialogue", "chat", map[string]any{"user_message": userMessage})
	if err != nil {
		return graph.Command[domain.ConversationState]{}, &domain.ModelInvocationError{Node: NodeChat, Err: err}
	}
	reply = domain.AssistantMessage(reply.Content)

	update := s.Fork()
	update.Messages = []*domain.Message{reply}
	update.Interrupted = false
	update.Pending = nil

	classified := strings.TrimSpace(reply.Content)
	current := s.CurrentAction()
	if topicChange(current, classified) {
		candidate, _ := domain.ParseAction(classified)
		question, err := r.prompts.Generate(ctx, r.model, "dialogue", "topic_change", map[string]any{
			"user_message":    userMessage,
			"previous_action": string(current),
			"current_action":  string(candidate),
		})
		if err != nil {
			return graph.Command[domain.ConversationState]{}, &domain.ModelInvocationError{Node: NodeChat, Err: err}
		}

		update.Messages = append(update.Messages, domain.AssistantMessage(question.Content))
		update.Interrupted = true
		update.Pending = &domain.TopicChange{Previous: current, Candidate: candidate}
		r.logger.Info("confirming topic change", "previous", current, "candidate", candidate)
		return graph.Interrupt(update, question.Content), nil
	}

	if action, ok := domain.ParseAction(classified); ok {
		update.Action = action
	}
	return graph.Continue(update), nil
}

// confirm applies the user's answer to a pending topic change.
func (r *Router) confirm(s domain.ConversationState, value any) graph.Command[domain.ConversationState] {
	answer := fmt.Sprint(value)

	update := s.Fork()
	update.Messages = []*domain.Message{domain.HumanMessage(answer)}
	update.Interrupted = false
	update.Pending = nil

	pending := s.Pending
	if pending == nil {
		return graph.Continue(update)
	}

	if domain.HasToken(answer, "yes") {
		update.Action = pending.Previous
	} else {
		update.Action = pending.Candidate
		update.Messages = append(update.Messages, domain.HumanMessage(string(pending.Candidate)))
	}
	r.logger.Info("topic change answered", "action", update.Action)
	return graph.Continue(update)
}
