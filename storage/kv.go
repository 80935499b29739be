package storage

import (
	"context"
	"fmt"
	"sync"

	daprc "github.com/dapr/go-sdk/client"
)

// KV is the persistent key-value capability used for small singleton state:
// the quota ledger, the API key, the monitored-playlist list.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// DaprKV backs the key-value capability with a dapr state store component.
type DaprKV struct {
	client    daprc.Client
	storeName string
}

// NewDaprKV wraps an existing dapr client for the named state store component.
func NewDaprKV(client daprc.Client, storeName string) *DaprKV {
	return &DaprKV{client: client, storeName: storeName}
}

func (kv *DaprKV) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := kv.client.GetState(ctx, kv.storeName, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return item.Value, nil
}

func (kv *DaprKV) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.client.SaveState(ctx, kv.storeName, key, value, nil); err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

func (kv *DaprKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.DeleteState(ctx, kv.storeName, key, nil); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}

// MemoryKV is an in-process KV used by tests and by hosts running without a
// dapr sidecar.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (kv *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	val, ok := kv.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (kv *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	out := make([]byte, len(value))
	copy(out, value)
	kv.data[key] = out
	return nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}
