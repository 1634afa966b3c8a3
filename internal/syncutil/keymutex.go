// Package syncutil provides keyed locking used by the in-memory stores to
// serialize operations on the same order or escrow without one global lock.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyMutex is a fixed pool of channel-based mutexes keyed by string. Two
// keys that hash to the same shard contend; distinct shards do not. The
// channel implementation lets a waiter give up when its context is
// cancelled instead of blocking forever.
type KeyMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewKeyMutex creates a new keyed mutex pool.
func NewKeyMutex() *KeyMutex {
	m := &KeyMutex{}
	m.init()
	return m
}

func (m *KeyMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for key, waiting until it is free or ctx is done.
// On success it returns the unlock function, which the caller must invoke.
func (m *KeyMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
