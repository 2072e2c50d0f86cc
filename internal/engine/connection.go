package engine

import (
	"sync"
	"sync/atomic"

	"github.com/emberdb/ember/internal/log"
	"github.com/emberdb/ember/internal/storage"
	"github.com/emberdb/ember/internal/txn"
)

// Connection owns the process-wide engine state: the transactional
// database model, the page allocator, the block manager, and the
// connection-wide corruption latch.
type Connection struct {
	db     *txn.Database
	alloc  *storage.RegionAllocator
	logger log.Logger

	mu sync.Mutex
	bm *storage.BlockManager

	// corrupt is a set-once latch: once data corruption is detected it
	// stays set for the process lifetime.
	corrupt atomic.Bool
}

// ConnectionOptions configures a connection.
type ConnectionOptions struct {
	RegionSize  int
	RegionCount int
	Logger      log.Logger
}

// Open creates a connection.
func Open(opts ConnectionOptions) (*Connection, error) {
	if opts.RegionSize == 0 {
		opts.RegionSize = storage.DefaultRegionSize
	}
	if opts.RegionCount == 0 {
		opts.RegionCount = storage.DefaultRegionCount
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	alloc, err := storage.NewRegionAllocator(opts.RegionSize, opts.RegionCount)
	if err != nil {
		return nil, err
	}
	return &Connection{
		db:     txn.NewDatabase(),
		alloc:  alloc,
		logger: logger,
	}, nil
}

// Database returns the transactional KV model.
func (c *Connection) Database() *txn.Database { return c.db }

// Allocator returns the page allocator.
func (c *Connection) Allocator() *storage.RegionAllocator { return c.alloc }

// SetBlockManager attaches the block manager serving on-disk reads.
func (c *Connection) SetBlockManager(bm *storage.BlockManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bm = bm
}

// BlockManager returns the attached block manager, nil if none.
func (c *Connection) BlockManager() *storage.BlockManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bm
}

// MarkCorrupt sets the connection-wide data-corruption latch.
func (c *Connection) MarkCorrupt() {
	if c.corrupt.CompareAndSwap(false, true) {
		c.logger.Error("data corruption detected, connection flagged")
	}
}

// IsCorrupt reports whether corruption was ever detected.
func (c *Connection) IsCorrupt() bool {
	return c.corrupt.Load()
}

// OpenSession creates a session on the connection.
func (c *Connection) OpenSession() *Session {
	return &Session{conn: c}
}

// Close shuts the connection down.
func (c *Connection) Close() error {
	return c.alloc.Destroy()
}
