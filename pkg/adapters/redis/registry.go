package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Registry implements ports.InterruptRegistry using Redis.
// Put is a SET NX and Take a GETDEL, so both are atomic across replicas.
type Registry struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryTTL expires unanswered interrupts.
func WithRegistryTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithRegistryPrefix sets the key prefix for interrupt tokens.
func WithRegistryPrefix(prefix string) RegistryOption {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

// NewRegistry creates a registry on an existing client.
func NewRegistry(client *backend.Client, opts ...RegistryOption) *Registry {
	r := &Registry{
		client: client,
		prefix: DefaultPrefix + "interrupt:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) key(sessionID string) string {
	return r.prefix + sessionID
}

// Put records the pending interrupt of a session.
func (r *Registry) Put(ctx context.Context, tok domain.InterruptToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(tok.SessionID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis error registering interrupt: %w", err)
	}
	if !ok {
		return domain.ErrDoubleSuspend
	}
	return nil
}

// Take removes and returns the pending interrupt, or nil if there is none.
func (r *Registry) Take(ctx context.Context, sessionID string) (*domain.InterruptToken, error) {
	return r.decode(r.client.GetDel(ctx, r.key(sessionID)).Bytes())
}

// Lookup returns the pending interrupt without removing it.
func (r *Registry) Lookup(ctx context.Context, sessionID string) (*domain.InterruptToken, error) {
	return r.decode(r.client.Get(ctx, r.key(sessionID)).Bytes())
}

func (r *Registry) decode(val []byte, err error) (*domain.InterruptToken, error) {
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read interrupt from redis: %w", err)
	}
	var tok domain.InterruptToken
	if err := json.Unmarshal(val, &tok); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interrupt: %w", err)
	}
	return &tok, nil
}
