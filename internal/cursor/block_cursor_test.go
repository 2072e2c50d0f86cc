package cursor

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/storage"
	"github.com/emberdb/ember/internal/txn"
)

func newTestTable(t *testing.T, db *txn.Database, cfg string) *txn.Table {
	t.Helper()
	table, err := db.CreateTable("t", cfg)
	require.NoError(t, err)
	return table
}

func loadRows(t *testing.T, db *txn.Database, table *txn.Table, n int, ts txn.Timestamp) []string {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		keys[i] = key
		require.NoError(t, tx.Insert(table, []byte(key), []byte("val-"+key)))
	}
	require.NoError(t, tx.Commit(ts))
	return keys
}

func newBlockCursor(t *testing.T, table *txn.Table, opts BtreeCursorOptions) *BlockCursor {
	t.Helper()
	bt, err := NewBtreeCursor(table, opts)
	require.NoError(t, err)
	c, err := NewBlockCursor(bt)
	require.NoError(t, err)
	return c
}

func TestBlockCursorValidation(t *testing.T) {
	db := txn.NewDatabase()

	t.Run("rejects column stores", func(t *testing.T) {
		table, err := db.CreateTable("col", "type=column")
		require.NoError(t, err)
		_, err = NewBtreeCursor(table, BtreeCursorOptions{})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
	})

	t.Run("rejects non-raw formats", func(t *testing.T) {
		table, err := db.CreateTable("str", "key_format=S,value_format=S")
		require.NoError(t, err)
		bt, err := NewBtreeCursor(table, BtreeCursorOptions{})
		require.NoError(t, err)
		_, err = NewBlockCursor(bt)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
	})
}

func TestBlockCursorNextRawN(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	want := loadRows(t, db, table, 150, 10)

	c := newBlockCursor(t, table, BtreeCursorOptions{})

	var got []string
	for {
		keys, values, n, err := c.NextRawN()
		if errors.IsCode(err, errors.CodeNotFound) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, n, len(keys))
		require.Equal(t, n, len(values))
		require.LessOrEqual(t, n, MaxBlockItem)

		// A batch never crosses a page boundary after its first step.
		require.LessOrEqual(t, n, PageFanout)

		for i := 0; i < n; i++ {
			if i > 0 {
				require.Negative(t, bytes.Compare(keys[i-1], keys[i]),
					"keys strictly increasing")
			}
			assert.Equal(t, "val-"+string(keys[i]), string(values[i]))
			got = append(got, string(keys[i]))
		}
	}
	assert.Equal(t, want, got)
	require.NoError(t, c.Close())
}

func TestBlockCursorPrevRawN(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	want := loadRows(t, db, table, 100, 10)

	c := newBlockCursor(t, table, BtreeCursorOptions{})

	var got []string
	for {
		keys, _, n, err := c.PrevRawN()
		if errors.IsCode(err, errors.CodeNotFound) {
			break
		}
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			if i > 0 {
				require.Positive(t, bytes.Compare(keys[i-1], keys[i]),
					"keys strictly decreasing")
			}
			got = append(got, string(keys[i]))
		}
	}

	require.Len(t, got, len(want))
	for i, key := range got {
		assert.Equal(t, want[len(want)-1-i], key)
	}
	require.NoError(t, c.Close())
}

func TestBlockCursorBatchStopsAtPageEdge(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, PageFanout+10, 10)

	c := newBlockCursor(t, table, BtreeCursorOptions{})

	_, _, n, err := c.NextRawN()
	require.NoError(t, err)
	assert.Equal(t, PageFanout, n, "first batch fills exactly one page")

	_, _, n, err = c.NextRawN()
	require.NoError(t, err)
	assert.Equal(t, 10, n, "second batch picks up after the page crossing")

	_, _, _, err = c.NextRawN()
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	require.NoError(t, c.Close())
}

func TestBlockCursorPrepareConflictEndsBatch(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, 5, 10)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("key-0002"), []byte("prep")))
	require.NoError(t, tx.Prepare(20))

	c := newBlockCursor(t, table, BtreeCursorOptions{})

	// The conflict terminates the batch cleanly after the rows before it.
	keys, _, n, err := c.NextRawN()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "key-0001", string(keys[n-1]))

	// A first-advance conflict propagates.
	_, _, _, err = c.NextRawN()
	assert.True(t, errors.IsCode(err, errors.CodePrepareConflict))

	require.NoError(t, tx.Rollback())
	require.NoError(t, c.Close())
}

func TestBlockCursorRollbackMidWalk(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, 5, 10)

	tx, err := db.Begin()
	require.NoError(t, err)

	c := newBlockCursor(t, table, BtreeCursorOptions{Txn: tx})
	require.NoError(t, tx.Rollback())

	_, _, _, err = c.NextRawN()
	assert.True(t, errors.IsCode(err, errors.CodeRollback))
	assert.False(t, c.Active(), "cursor reset after rollback")
}

func TestBlockCursorCheckpointScope(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, 3, 10)
	db.SetStableTimestamp(15)
	ckpt, err := db.CreateCheckpoint("ckpt")
	require.NoError(t, err)

	// Rows committed after the checkpoint are invisible to its scope.
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("key-9999"), []byte("late")))
	require.NoError(t, tx.Commit(20))

	reader := &txn.CheckpointReader{Ckpt: ckpt, Table: table.Name()}
	c := newBlockCursor(t, table, BtreeCursorOptions{Reader: reader})

	keys, _, n, err := c.NextRawN()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, key := range keys[:n] {
		assert.NotEqual(t, "key-9999", string(key))
	}
	require.NoError(t, c.Close())
}

func TestBlockCursorWithAllocator(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, PageFanout*2, 10)

	alloc, err := storage.NewRegionAllocator(64*1024, 16)
	require.NoError(t, err)

	c := newBlockCursor(t, table, BtreeCursorOptions{Alloc: alloc})
	for {
		_, _, _, err := c.NextRawN()
		if errors.IsCode(err, errors.CodeNotFound) {
			break
		}
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())
	assert.Equal(t, 0, alloc.RegionCount(), "walk pages released with the cursor")
	require.NoError(t, alloc.Destroy())
}

func TestBtreeCursorSearchAndPosition(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")
	loadRows(t, db, table, 10, 10)

	bt, err := NewBtreeCursor(table, BtreeCursorOptions{})
	require.NoError(t, err)

	require.NoError(t, bt.Search([]byte("key-0004")))
	assert.Equal(t, "key-0004", string(bt.Key()))
	assert.Equal(t, "val-key-0004", string(bt.Value()))

	require.NoError(t, bt.Next())
	assert.Equal(t, "key-0005", string(bt.Key()))
	require.NoError(t, bt.Prev())
	assert.Equal(t, "key-0004", string(bt.Key()))

	err = bt.Search([]byte("missing"))
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	require.NoError(t, bt.Close())
}

func TestCursorCaps(t *testing.T) {
	db := txn.NewDatabase()
	table := newTestTable(t, db, "")

	bt, err := NewBtreeCursor(table, BtreeCursorOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindBtree, bt.Kind())
	assert.True(t, bt.Caps().Has(CapNext|CapPrev|CapSearch))
	assert.False(t, bt.Caps().Has(CapNextRawN))

	c, err := NewBlockCursor(bt)
	require.NoError(t, err)
	assert.Equal(t, KindBlock, c.Kind())
	assert.True(t, c.Caps().Has(CapNextRawN|CapPrevRawN|CapNext|CapClose))
}
