package memory_test

import (
	"testing"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunCheckpointStoreContract(t, store)
}

func TestMemoryRegistry_Contract(t *testing.T) {
	registry := memory.NewRegistry()
	ports.RunInterruptRegistryContract(t, registry)
}
