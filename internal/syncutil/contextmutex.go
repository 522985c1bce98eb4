// Package syncutil holds the lock primitives shared by the stores and the
// transfer orchestrator.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. Memory stays bounded no matter how many keys are seen; two keys
// that hash to the same shard contend with each other.
//
// Never hold two shards at once: use KeyedMutex when a caller needs more
// than one key.
type ContextShardedMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

type chanMutex struct {
	ch chan struct{}
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{}
		}
	})
}

// LockContext acquires the shard for key or gives up when ctx is done.
// The returned unlock function must be called exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[shardIdx(key)]
	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
