package storage

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dgryski/go-farm"

	"github.com/emberdb/ember/internal/errors"
)

// ErrCacheFull is returned by the chunk cache when it is at capacity and
// cannot admit more data. Callers fall through to a direct read.
var ErrCacheFull = errors.New(errors.CodeNoSpace, "chunk cache out of space")

// ChunkCache caches block-sized chunks of underlying objects. A Get miss
// is not an error; the block manager reads the data itself.
type ChunkCache interface {
	// Get copies the cached chunk into dest and reports a hit.
	Get(objectID uint32, offset int64, size uint32, dest []byte) (bool, error)

	// Put admits a chunk. Returns ErrCacheFull when at capacity.
	Put(objectID uint32, offset int64, size uint32, data []byte) error

	// Invalidate drops a chunk, stale or not.
	Invalidate(objectID uint32, offset int64, size uint32)
}

const chunkCacheShards = 16

type chunkKey struct {
	objectID uint32
	offset   int64
	size     uint32
}

type chunkShard struct {
	mu     sync.Mutex
	chunks map[chunkKey][]byte
}

// MemChunkCache is a sharded in-memory chunk cache bounded by a total byte
// capacity.
type MemChunkCache struct {
	capacity int64
	used     atomic.Int64
	shards   [chunkCacheShards]chunkShard
}

// NewMemChunkCache creates a chunk cache bounded by capacity bytes.
func NewMemChunkCache(capacity int64) *MemChunkCache {
	c := &MemChunkCache{capacity: capacity}
	for i := range c.shards {
		c.shards[i].chunks = make(map[chunkKey][]byte)
	}
	return c
}

// shard selects the shard for a chunk by farm-hashing its key bytes.
func (c *MemChunkCache) shard(k chunkKey) *chunkShard {
	var kb [16]byte
	binary.LittleEndian.PutUint32(kb[0:4], k.objectID)
	binary.LittleEndian.PutUint64(kb[4:12], uint64(k.offset))
	binary.LittleEndian.PutUint32(kb[12:16], k.size)
	return &c.shards[farm.Hash64(kb[:])%chunkCacheShards]
}

// Get implements ChunkCache.
func (c *MemChunkCache) Get(objectID uint32, offset int64, size uint32, dest []byte) (bool, error) {
	k := chunkKey{objectID, offset, size}
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chunks[k]
	if !ok {
		return false, nil
	}
	copy(dest, data)
	return true, nil
}

// Put implements ChunkCache.
func (c *MemChunkCache) Put(objectID uint32, offset int64, size uint32, data []byte) error {
	if c.used.Load()+int64(len(data)) > c.capacity {
		return ErrCacheFull
	}
	k := chunkKey{objectID, offset, size}
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[k]; ok {
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.chunks[k] = stored
	c.used.Add(int64(len(stored)))
	return nil
}

// Invalidate implements ChunkCache.
func (c *MemChunkCache) Invalidate(objectID uint32, offset int64, size uint32) {
	k := chunkKey{objectID, offset, size}
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.chunks[k]; ok {
		delete(s.chunks, k)
		c.used.Add(-int64(len(data)))
	}
}
