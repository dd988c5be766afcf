package graph

import (
	"context"
	"log/slog"
	"sync"
)

// CompensateFunc undoes a side effect a node made outside the checkpoint store.
type CompensateFunc func(ctx context.Context) error

type compensationsKey struct{}

type compensations struct {
	mu  sync.Mutex
	fns []CompensateFunc
}

// OnRollback registers fn to run if the current turn fails before its next
// commit. Compensations run in reverse registration order. Outside a running
// node it does nothing.
func OnRollback(ctx context.Context, fn CompensateFunc) {
	if c := compensationsFrom(ctx); c != nil && fn != nil {
		c.mu.Lock()
		c.fns = append(c.fns, fn)
		c.mu.Unlock()
	}
}

func compensationsFrom(ctx context.Context) *compensations {
	c, _ := ctx.Value(compensationsKey{}).(*compensations)
	return c
}

func (c *compensations) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fns = nil
	c.mu.Unlock()
}

func (c *compensations) unwind(ctx context.Context, logger *slog.Logger, key string) {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			logger.Error("compensation failed", "key", key, "error", err)
		}
	}
	if len(fns) > 0 {
		logger.Info("turn rolled back", "key", key, "compensations", len(fns))
	}
}
