package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
)

// completionRequest is the subset of the OpenAI chat completion request the
// API understands. The session is named by metadata.chat_id.
type completionRequest struct {
	Model    string        `json:"model"`
	Messages []messageJSON `json:"messages"`
	Stream   bool          `json:"stream"`
	Metadata struct {
		ChatID string `json:"chat_id"`
	} `json:"metadata"`
	Resume *bool `json:"resume,omitempty"`
}

type choiceJSON struct {
	Index        int          `json:"index"`
	Message      *messageJSON `json:"message,omitempty"`
	Delta        *messageJSON `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type completionMetadata struct {
	ChatID      string        `json:"chat_id"`
	Action      domain.Action `json:"action,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Node        string        `json:"node,omitempty"`
}

type completionJSON struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Choices  []choiceJSON       `json:"choices"`
	Metadata completionMetadata `json:"metadata"`
}

const (
	finishStop      = "stop"
	finishInterrupt = "interrupt"
)

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	text, ok := lastUserMessage(req.Messages)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "messages must contain a user message")
		return
	}

	reply, err := s.opts.Chat.Submit(r.Context(), dialogue.Turn{
		SessionID: req.Metadata.ChatID,
		Message:   text,
		Resume:    req.Resume,
	})
	if err != nil {
		if req.Stream {
			s.streamError(w, err)
			return
		}
		s.writeError(w, err)
		return
	}

	if req.Stream {
		s.streamReply(w, reply)
		return
	}

	finish := finishReason(reply)
	writeJSON(w, http.StatusOK, completionJSON{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   s.opts.ModelName,
		Choices: []choiceJSON{{
			Message:      &messageJSON{Role: string(domain.RoleAssistant), Content: reply.Content},
			FinishReason: &finish,
		}},
		Metadata: s.metadata(reply),
	})
}

// streamReply sends one chunk per assistant message produced by a node, in
// execution order, then a final chunk carrying the finish reason.
func (s *Server) streamReply(w http.ResponseWriter, reply *dialogue.Reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "server_error", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := newCompletionID()
	chunk := func(delta *messageJSON, finish *string, meta *completionMetadata) {
		c := completionJSON{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: s.now().Unix(),
			Model:   s.opts.ModelName,
			Choices: []choiceJSON{{Delta: delta, FinishReason: finish}},
		}
		if meta != nil {
			c.Metadata = *meta
		}
		writeEvent(w, c)
		flusher.Flush()
	}

	for _, step := range reply.Steps {
		for _, m := range step.Update.Messages {
			if m == nil || m.Role != domain.RoleAssistant {
				continue
			}
			chunk(&messageJSON{Role: string(m.Role), Content: m.Content}, nil, &completionMetadata{
				ChatID: reply.SessionID,
				Node:   step.Node,
			})
		}
	}
	finish := finishReason(reply)
	meta := s.metadata(reply)
	chunk(&messageJSON{}, &finish, &meta)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) streamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/event-stream")
	var body errorJSON
	body.Error.Message = err.Error()
	body.Error.Type = "server_error"
	writeEvent(w, body)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) metadata(reply *dialogue.Reply) completionMetadata {
	return completionMetadata{
		ChatID:      reply.SessionID,
		Action:      reply.State.CurrentAction(),
		Interrupted: reply.Interrupt != nil,
	}
}

func writeEvent(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func finishReason(reply *dialogue.Reply) string {
	if reply.Interrupt != nil {
		return finishInterrupt
	}
	return finishStop
}

func lastUserMessage(msgs []messageJSON) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(domain.RoleHuman) {
			return msgs[i].Content, true
		}
	}
	return "", false
}
