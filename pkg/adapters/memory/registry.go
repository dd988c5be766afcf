package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/aretw0/tether/pkg/domain"
)

const shardCount = 32

type shard struct {
	mu     sync.Mutex
	tokens map[string]domain.InterruptToken
}

// Registry implements ports.InterruptRegistry in memory.
// Tokens are spread over shards so unrelated sessions never contend.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{tokens: make(map[string]domain.InterruptToken)}
	}
	return r
}

func (r *Registry) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%shardCount]
}

// Put records the pending interrupt of a session.
func (r *Registry) Put(ctx context.Context, tok domain.InterruptToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	s := r.shardFor(tok.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[tok.SessionID]; exists {
		return domain.ErrDoubleSuspend
	}
	s.tokens[tok.SessionID] = tok
	return nil
}

// Take removes and returns the pending interrupt, or nil if there is none.
func (r *Registry) Take(ctx context.Context, sessionID string) (*domain.InterruptToken, error) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, sessionID)
	return &tok, nil
}

// Lookup returns the pending interrupt without removing it.
func (r *Registry) Lookup(ctx context.Context, sessionID string) (*domain.InterruptToken, error) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[sessionID]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}
