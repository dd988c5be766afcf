package domain

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Message is the element of every message log in the system.
type Message = schema.Message

// Message roles.
const (
	RoleHuman     = schema.User
	RoleAssistant = schema.Assistant
	RoleSystem    = schema.System
)

// HumanMessage creates a human-role (user) message.
func HumanMessage(content string) *Message {
	return schema.UserMessage(content)
}

// AssistantMessage creates an assistant-role message.
func AssistantMessage(content string) *Message {
	return schema.AssistantMessage(content, nil)
}

// SystemMessage creates a system-role message.
func SystemMessage(content string) *Message {
	return schema.SystemMessage(content)
}

// LastHuman returns the most recent human-role message of the log.
func LastHuman(messages []*Message) (*Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == RoleHuman {
			return messages[i], true
		}
	}
	return nil, false
}

// LastContent returns the content of the final message, or "" for an empty log.
func LastContent(messages []*Message) string {
	if len(messages) == 0 || messages[len(messages)-1] == nil {
		return ""
	}
	return messages[len(messages)-1].Content
}

// CloneMessages returns a copy of the log that shares no backing array with the input.
func CloneMessages(messages []*Message) []*Message {
	if messages == nil {
		return nil
	}
	out := make([]*Message, len(messages))
	copy(out, messages)
	return out
}

// HasToken reports whether text, lowercased and split on whitespace, contains token.
func HasToken(text, token string) bool {
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if field == token {
			return true
		}
	}
	return false
}
