package storage

import (
	"sync"

	"github.com/emberdb/ember/internal/errors"
)

// BlockOpener resolves an object ID to a block handle on first use.
type BlockOpener func(objectID uint32) (*Block, error)

// blockHandle wraps a block with a reference count for shared use.
type blockHandle struct {
	block *Block
	refs  int
}

// BlockHandleCache resolves object IDs to reference-counted block handles
// for multi-object block managers. Every Acquire must be paired with
// exactly one Release on all exit paths.
type BlockHandleCache struct {
	mu      sync.Mutex
	opener  BlockOpener
	handles map[uint32]*blockHandle
}

// NewBlockHandleCache creates a handle cache backed by opener.
func NewBlockHandleCache(opener BlockOpener) *BlockHandleCache {
	return &BlockHandleCache{
		opener:  opener,
		handles: make(map[uint32]*blockHandle),
	}
}

// Acquire returns the block handle for objectID, opening it on first use,
// and pins it.
func (c *BlockHandleCache) Acquire(objectID uint32) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[objectID]; ok {
		h.refs++
		return h.block, nil
	}
	if c.opener == nil {
		return nil, errors.Newf(errors.CodeInvalidArgument,
			"no opener for object %d", objectID)
	}
	block, err := c.opener(objectID)
	if err != nil {
		return nil, err
	}
	c.handles[objectID] = &blockHandle{block: block, refs: 1}
	return block, nil
}

// Release unpins the handle for objectID.
func (c *BlockHandleCache) Release(objectID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[objectID]
	if !ok || h.refs == 0 {
		return
	}
	h.refs--
}

// Refs returns the current pin count for objectID.
func (c *BlockHandleCache) Refs(objectID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[objectID]; ok {
		return h.refs
	}
	return 0
}

// Close closes all unpinned handles. Pinned handles are left open and
// reported through the returned error.
func (c *BlockHandleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pinned int
	for id, h := range c.handles {
		if h.refs > 0 {
			pinned++
			continue
		}
		_ = h.block.Close()
		delete(c.handles, id)
	}
	if pinned > 0 {
		return errors.Newf(errors.CodeInvalidArgument,
			"%d block handles still pinned at close", pinned)
	}
	return nil
}
