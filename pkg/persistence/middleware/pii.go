package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

const mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks string values of state fields
// whose key matches one of the patterns, e.g. "email" or "username".
// Masking is one-way: loaded checkpoints carry the mask.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, key string, cp *domain.Checkpoint) error {
	if len(cp.State) == 0 || len(m.patterns) == 0 {
		return m.next.Save(ctx, key, cp)
	}

	// Decoding yields a fresh tree, the caller's checkpoint is never touched.
	var tree any
	if err := json.Unmarshal(cp.State, &tree); err != nil {
		return fmt.Errorf("failed to decode state for masking: %w", err)
	}
	maskValue(tree, m.patterns)

	masked, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode masked state: %w", err)
	}
	cloned := cp.Clone()
	cloned.State = masked
	return m.next.Save(ctx, key, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	return m.next.Load(ctx, key)
}

func (m *piiMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func maskValue(v any, patterns []*regexp.Regexp) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if _, isString := child.(string); isString && matchesAny(k, patterns) {
				node[k] = mask
				continue
			}
			maskValue(child, patterns)
		}
	case []any:
		for _, child := range node {
			maskValue(child, patterns)
		}
	}
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
