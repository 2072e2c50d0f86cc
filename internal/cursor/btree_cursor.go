package cursor

import (
	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/storage"
	"github.com/emberdb/ember/internal/txn"
)

// PageFanout is the number of rows grouped into one walk page. On-page
// steps never leave the current page; a full page crossing refreshes the
// page's backing memory, so key storage is only stable within a page.
const PageFanout = 64

// BtreeCursor walks a row-store table in key order within a read scope:
// the live table under the session's snapshot rules, or a bound
// checkpoint. It is the tree-walk half the block cursor builds on.
type BtreeCursor struct {
	table  *txn.Table
	reader txn.Reader
	txn    *txn.Transaction

	// Page memory for the current walk position. When an allocator is
	// attached, copied keys are materialized into spill allocations tied
	// to the page and released on the next page crossing.
	alloc *storage.RegionAllocator
	page  *storage.Page

	onPage int // rows remaining before the page edge

	// copyKey is toggled by each step: set when the step crossed a page
	// boundary and the key's backing storage is about to be recycled.
	copyKey bool

	key      []byte
	value    []byte
	keySet   bool
	valueSet bool
	active   bool
}

// BtreeCursorOptions configures a tree cursor.
type BtreeCursorOptions struct {
	// Txn makes the walk observe the transaction's own writes and fail
	// with a rollback error if the transaction ends mid-walk.
	Txn *txn.Transaction

	// Reader overrides the read scope; nil walks the live table under
	// Txn's snapshot (or latest committed).
	Reader txn.Reader

	// Alloc, when set, owns the walk's page memory.
	Alloc *storage.RegionAllocator
}

// NewBtreeCursor creates a tree cursor over a row-store table.
func NewBtreeCursor(table *txn.Table, opts BtreeCursorOptions) (*BtreeCursor, error) {
	if table.Kind() != txn.RowStore {
		return nil, errors.New(errors.CodeInvalidArgument,
			"tree cursor only supports row store")
	}
	reader := opts.Reader
	if reader == nil {
		reader = &txn.LiveReader{Table: table, Txn: opts.Txn}
	}
	return &BtreeCursor{
		table:  table,
		reader: reader,
		txn:    opts.Txn,
		alloc:  opts.Alloc,
	}, nil
}

// Kind implements Cursor.
func (c *BtreeCursor) Kind() Kind { return KindBtree }

// Caps implements Cursor.
func (c *BtreeCursor) Caps() Caps {
	return CapNext | CapPrev | CapSearch | CapInsert | CapRemove | CapUpdate | CapClose
}

// Table returns the cursor's table.
func (c *BtreeCursor) Table() *txn.Table { return c.table }

// Active reports whether the cursor holds a position.
func (c *BtreeCursor) Active() bool { return c.active }

// CopyKey reports whether the last step invalidated the previous key
// storage, requiring callers that retain keys to copy them.
func (c *BtreeCursor) CopyKey() bool { return c.copyKey }

// enterPage refreshes the page backing the walk after a page crossing.
func (c *BtreeCursor) enterPage() error {
	if c.alloc != nil {
		if c.page != nil {
			if err := c.alloc.FreePage(c.page); err != nil {
				return err
			}
			c.page = nil
		}
		p, err := c.alloc.AllocPage(PageFanout * 64)
		if err != nil {
			return err
		}
		c.page = p
	}
	c.onPage = PageFanout
	return nil
}

// step records the row returned by an advance.
func (c *BtreeCursor) step(key, value []byte) {
	c.key = key
	c.value = value
	c.keySet = true
	c.valueSet = true
	c.active = true
	c.onPage--
}

// Next advances to the next visible row, crossing page boundaries.
func (c *BtreeCursor) Next() error {
	var after []byte
	if c.active {
		after = c.key
	}
	key, value, err := c.reader.Next(after)
	if err != nil {
		return err
	}
	c.copyKey = false
	if c.onPage == 0 {
		if err := c.enterPage(); err != nil {
			return err
		}
		c.copyKey = true
	}
	c.step(key, value)
	return nil
}

// NextOnPage advances to the next visible row without leaving the
// current page; the page edge reads as not-found.
func (c *BtreeCursor) NextOnPage() error {
	if c.onPage == 0 {
		return errors.New(errors.CodeNotFound, "end of page")
	}
	key, value, err := c.reader.Next(c.key)
	if err != nil {
		return err
	}
	c.copyKey = false
	c.step(key, value)
	return nil
}

// Prev advances to the previous visible row, crossing page boundaries.
func (c *BtreeCursor) Prev() error {
	var before []byte
	if c.active {
		before = c.key
	}
	key, value, err := c.reader.Prev(before)
	if err != nil {
		return err
	}
	c.copyKey = false
	if c.onPage == 0 {
		if err := c.enterPage(); err != nil {
			return err
		}
		c.copyKey = true
	}
	c.step(key, value)
	return nil
}

// PrevOnPage advances to the previous visible row without leaving the
// current page.
func (c *BtreeCursor) PrevOnPage() error {
	if c.onPage == 0 {
		return errors.New(errors.CodeNotFound, "end of page")
	}
	key, value, err := c.reader.Prev(c.key)
	if err != nil {
		return err
	}
	c.copyKey = false
	c.step(key, value)
	return nil
}

// Search positions the cursor on key.
func (c *BtreeCursor) Search(key []byte) error {
	value, err := c.reader.Search(key)
	if err != nil {
		return err
	}
	if err := c.enterPage(); err != nil {
		return err
	}
	c.copyKey = true
	c.step(key, value)
	return nil
}

// Insert writes key=value through the cursor's transaction.
func (c *BtreeCursor) Insert(key, value []byte) error {
	if c.txn == nil {
		return errors.New(errors.CodeInvalidArgument, "cursor has no transaction")
	}
	return c.txn.Insert(c.table, key, value)
}

// Update overwrites key with value through the cursor's transaction.
func (c *BtreeCursor) Update(key, value []byte) error {
	return c.Insert(key, value)
}

// Remove deletes key through the cursor's transaction.
func (c *BtreeCursor) Remove(key []byte) error {
	if c.txn == nil {
		return errors.New(errors.CodeInvalidArgument, "cursor has no transaction")
	}
	return c.txn.Remove(c.table, key)
}

// Key returns the current key; valid only while the key-set flag holds.
func (c *BtreeCursor) Key() []byte {
	if !c.keySet {
		return nil
	}
	return c.key
}

// Value returns the current value; valid only while the value-set flag
// holds.
func (c *BtreeCursor) Value() []byte {
	if !c.valueSet {
		return nil
	}
	return c.value
}

// Reset clears the cursor position.
func (c *BtreeCursor) Reset() {
	c.key = nil
	c.value = nil
	c.keySet = false
	c.valueSet = false
	c.active = false
	c.onPage = 0
}

// Close releases the cursor's page memory.
func (c *BtreeCursor) Close() error {
	c.Reset()
	if c.page != nil {
		if err := c.alloc.FreePage(c.page); err != nil {
			return err
		}
		c.page = nil
	}
	return nil
}

// materializeKey copies key into storage owned by the walk's page so it
// survives the page's row storage being recycled.
func (c *BtreeCursor) materializeKey(key []byte) ([]byte, error) {
	if c.alloc != nil && c.page != nil {
		mem, err := c.alloc.Zalloc(len(key), c.page)
		if err != nil {
			return nil, err
		}
		copy(mem, key)
		return mem, nil
	}
	return append([]byte(nil), key...), nil
}
