package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractCheckpoint(key, node string) *domain.Checkpoint {
	state, _ := json.Marshal(map[string]any{"node": node, "messages": []string{"hello"}})
	return &domain.Checkpoint{
		Key:       key,
		Graph:     "contract",
		NodeID:    node,
		Status:    domain.CheckpointCompleted,
		Step:      1,
		History:   []string{"start", node},
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	key := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		cp := contractCheckpoint(key, "chat")

		err := store.Save(ctx, key, cp)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, cp.NodeID, loaded.NodeID)
		assert.Equal(t, cp.Status, loaded.Status)
		assert.Equal(t, cp.History, loaded.History)
		assert.JSONEq(t, string(cp.State), string(loaded.State))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Nested Keys", func(t *testing.T) {
		sub := key + "/stage/md5-checking"
		require.NoError(t, store.Save(ctx, sub, contractCheckpoint(sub, "running")))
		defer func() { _ = store.Delete(ctx, sub) }()

		loaded, err := store.Load(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, "running", loaded.NodeID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, contractCheckpoint(key, "chat")))

		err := store.Delete(ctx, key)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound, "Load after Delete should return ErrCheckpointNotFound")

		assert.NoError(t, store.Delete(ctx, key), "Deleting a missing key should not fail")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		_ = store.Save(ctx, id1, contractCheckpoint(id1, "chat"))
		_ = store.Save(ctx, id2, contractCheckpoint(id2, "chat"))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})

	t.Run("Single Writer Snapshots", func(t *testing.T) {
		writerKey := key + "-writer"
		defer func() { _ = store.Delete(ctx, writerKey) }()
		require.NoError(t, store.Save(ctx, writerKey, contractCheckpoint(writerKey, "0")))

		const saves = 50
		var wg sync.WaitGroup
		done := make(chan struct{})
		mixed := make(chan string, 1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				cp, err := store.Load(ctx, writerKey)
				if err != nil {
					continue
				}
				var body struct {
					Node string `json:"node"`
				}
				if err := json.Unmarshal(cp.State, &body); err != nil || body.Node != cp.NodeID {
					select {
					case mixed <- fmt.Sprintf("node=%s state=%s", cp.NodeID, cp.State):
					default:
					}
				}
			}
		}()

		for i := 1; i <= saves; i++ {
			node := strconv.Itoa(i)
			require.NoError(t, store.Save(ctx, writerKey, contractCheckpoint(writerKey, node)))
		}
		close(done)
		wg.Wait()

		select {
		case m := <-mixed:
			t.Fatalf("observed a mixed snapshot: %s", m)
		default:
		}

		last, err := store.Load(ctx, writerKey)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(saves), last.NodeID)
	})
}

// RunInterruptRegistryContract verifies that an InterruptRegistry implementation
// adheres to the defined interface contract.
func RunInterruptRegistryContract(t *testing.T, registry InterruptRegistry) {
	ctx := context.Background()
	sid := "contract-interrupt-" + time.Now().Format("20060102150405")

	t.Run("Take Empty", func(t *testing.T) {
		tok, err := registry.Take(ctx, sid+"-empty")
		require.NoError(t, err)
		assert.Nil(t, tok)
	})

	t.Run("Put Lookup Take", func(t *testing.T) {
		err := registry.Put(ctx, domain.InterruptToken{SessionID: sid, Namespace: "chat", Value: "switch topic?"})
		require.NoError(t, err)

		peek, err := registry.Lookup(ctx, sid)
		require.NoError(t, err)
		require.NotNil(t, peek)
		assert.Equal(t, "chat", peek.Namespace)

		tok, err := registry.Take(ctx, sid)
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "chat", tok.Namespace)
		assert.Equal(t, "switch topic?", tok.Value)

		again, err := registry.Take(ctx, sid)
		require.NoError(t, err)
		assert.Nil(t, again, "Take must remove the token")
	})

	t.Run("Double Suspend Rejected", func(t *testing.T) {
		first := domain.InterruptToken{SessionID: sid + "-double", Namespace: "chat", Value: "first"}
		require.NoError(t, registry.Put(ctx, first))
		defer func() { _, _ = registry.Take(ctx, first.SessionID) }()

		err := registry.Put(ctx, domain.InterruptToken{SessionID: first.SessionID, Namespace: "chat", Value: "second"})
		assert.ErrorIs(t, err, domain.ErrDoubleSuspend)

		tok, err := registry.Lookup(ctx, first.SessionID)
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "first", tok.Value, "the pending token must survive a rejected Put")
	})

	t.Run("Concurrent Take", func(t *testing.T) {
		key := sid + "-race"
		require.NoError(t, registry.Put(ctx, domain.InterruptToken{SessionID: key, Namespace: "chat", Value: "once"}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := registry.Take(ctx, key)
				if err == nil && tok != nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners, "exactly one Take may observe the token")
	})
}
