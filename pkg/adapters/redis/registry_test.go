package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/adapters/redis"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRegistry_Contract(t *testing.T) {
	_, client := newMiniredis(t)
	ports.RunInterruptRegistryContract(t, redis.NewRegistry(client))
}

func TestRedisRegistry_StructuredValue(t *testing.T) {
	_, client := newMiniredis(t)
	reg := redis.NewRegistry(client)
	ctx := context.Background()

	err := reg.Put(ctx, domain.InterruptToken{
		SessionID: "run-1/stage/analyzing",
		Namespace: "human-intervention",
		Value:     domain.Intervention{Stage: domain.StageAnalyzing, Failures: 3, Interventions: 1},
	})
	require.NoError(t, err)

	tok, err := reg.Take(ctx, "run-1/stage/analyzing")
	require.NoError(t, err)
	require.NotNil(t, tok)

	// Values come back as generic JSON.
	value, ok := tok.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "analyzing", value["stage"])
	assert.EqualValues(t, 3, value["failures"])
}

func TestRedisRegistry_TTL(t *testing.T) {
	mr, client := newMiniredis(t)
	reg := redis.NewRegistry(client, redis.WithRegistryTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, domain.InterruptToken{SessionID: "s", Namespace: "chat"}))
	mr.FastForward(2 * time.Minute)

	tok, err := reg.Lookup(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, tok, "unanswered interrupts expire")
}
