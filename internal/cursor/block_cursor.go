package cursor

import (
	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/txn"
)

// MaxBlockItem is the capacity of a block cursor batch.
const MaxBlockItem = 4096

// BlockCursor is the batch variant of the tree cursor, restricted to
// row-store tables with raw byte-string key/value formats. It fills a
// bounded buffer of key/value pairs per call: the first advance crosses
// page boundaries, subsequent advances stay on the current page.
type BlockCursor struct {
	*BtreeCursor

	keys   [][]byte
	values [][]byte
}

// NewBlockCursor wraps a tree cursor for batch iteration.
func NewBlockCursor(bt *BtreeCursor) (*BlockCursor, error) {
	if bt.Table().Kind() != txn.RowStore {
		return nil, errors.New(errors.CodeInvalidArgument,
			"block cursor only supports row store")
	}
	if bt.Table().KeyFormat() != "u" || bt.Table().ValueFormat() != "u" {
		return nil, errors.New(errors.CodeInvalidArgument,
			"block cursor only supports raw format")
	}
	return &BlockCursor{
		BtreeCursor: bt,
		keys:        make([][]byte, MaxBlockItem),
		values:      make([][]byte, MaxBlockItem),
	}, nil
}

// Kind implements Cursor.
func (c *BlockCursor) Kind() Kind { return KindBlock }

// Caps implements Cursor.
func (c *BlockCursor) Caps() Caps {
	return c.BtreeCursor.Caps() | CapNextRawN | CapPrevRawN
}

// record captures the current row into slot i of the batch buffers. The
// value is recorded directly; the key is copied into cursor storage only
// when the walk flagged its storage as unstable.
func (c *BlockCursor) record(i int) error {
	c.values[i] = append(c.values[i][:0], c.Value()...)
	if c.CopyKey() {
		key, err := c.materializeKey(c.Key())
		if err != nil {
			return err
		}
		c.keys[i] = key
	} else {
		c.keys[i] = c.Key()
	}
	return nil
}

// finish clears the set flags so the caller reads only through the
// returned arrays; the cursor keeps its position on the last row.
func (c *BlockCursor) finish() {
	c.keySet = false
	c.valueSet = false
}

// NextRawN advances forward, producing up to MaxBlockItem key/value
// pairs. The batch stops at the buffer limit, the page edge, the end of
// the table, or a prepare conflict; n is the number produced.
func (c *BlockCursor) NextRawN() (keys, values [][]byte, n int, err error) {
	return c.rawN(
		func() error { return c.Next() },
		func() error { return c.NextOnPage() },
	)
}

// PrevRawN is NextRawN in the reverse direction.
func (c *BlockCursor) PrevRawN() (keys, values [][]byte, n int, err error) {
	return c.rawN(
		func() error { return c.Prev() },
		func() error { return c.PrevOnPage() },
	)
}

func (c *BlockCursor) rawN(first, onPage func() error) (keys, values [][]byte, n int, err error) {
	defer c.finish()

	count := 0
	if err := first(); err != nil {
		if errors.IsCode(err, errors.CodeRollback) {
			c.Reset()
		}
		return nil, nil, 0, err
	}
	if err := c.record(count); err != nil {
		return nil, nil, 0, err
	}
	count++

	// Not-found and prepare conflicts end the batch cleanly from here.
	for ; count < MaxBlockItem; count++ {
		stepErr := onPage()
		if errors.IsCode(stepErr, errors.CodeNotFound) ||
			errors.IsCode(stepErr, errors.CodePrepareConflict) {
			break
		}
		if stepErr != nil {
			if errors.IsCode(stepErr, errors.CodeRollback) {
				c.Reset()
			}
			return nil, nil, 0, stepErr
		}
		if err := c.record(count); err != nil {
			return nil, nil, 0, err
		}
	}

	return c.keys[:count], c.values[:count], count, nil
}
