package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/cursor"
	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/txn"
)

func openTest(t *testing.T) *Connection {
	t.Helper()
	conn, err := Open(ConnectionOptions{RegionSize: 64 * 1024, RegionCount: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectionCorruptionLatch(t *testing.T) {
	conn := openTest(t)
	assert.False(t, conn.IsCorrupt())
	conn.MarkCorrupt()
	assert.True(t, conn.IsCorrupt())
	// The latch is set-once; marking again keeps it set.
	conn.MarkCorrupt()
	assert.True(t, conn.IsCorrupt())
}

func TestSessionTransactionLifecycle(t *testing.T) {
	conn := openTest(t)
	table, err := conn.Database().CreateTable("t", "")
	require.NoError(t, err)

	sess := conn.OpenSession()
	tx, err := sess.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("k"), []byte("v")))

	_, err = sess.Begin()
	assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument),
		"one running transaction per session")

	require.NoError(t, tx.Commit(10))
	assert.Nil(t, sess.Txn())

	// A finished transaction frees the session for the next one.
	tx2, err := sess.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
	require.NoError(t, sess.Close())
}

func TestSessionCheckpointBinding(t *testing.T) {
	conn := openTest(t)
	db := conn.Database()
	table, err := db.CreateTable("t", "")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("a"), []byte("va")))
	require.NoError(t, tx.Commit(0x10))
	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("b"), []byte("vb")))
	require.NoError(t, tx.Commit(0x20))

	db.SetStableTimestamp(0x30)
	_, err = db.CreateCheckpoint("ckpt")
	require.NoError(t, err)

	sess := conn.OpenSession()
	require.NoError(t, sess.Configure("checkpoint=ckpt,debug=(checkpoint_read_timestamp=18)"))
	require.NotNil(t, sess.Checkpoint())

	c, err := sess.OpenCursor(cursor.KindBlock, table)
	require.NoError(t, err)
	bc := c.(*cursor.BlockCursor)

	// The debug read timestamp (0x18) bounds visibility within the
	// checkpoint: only the commit at 0x10 is visible.
	keys, values, n, err := bc.NextRawN()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "a", string(keys[0]))
	assert.Equal(t, "va", string(values[0]))

	require.NoError(t, bc.Close())
	require.NoError(t, sess.Close())
}

func TestSessionCheckpointBindingUnknownName(t *testing.T) {
	conn := openTest(t)
	sess := conn.OpenSession()
	err := sess.Configure("checkpoint=missing")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestSessionLiveCursorScope(t *testing.T) {
	conn := openTest(t)
	db := conn.Database()
	table, err := db.CreateTable("t", "")
	require.NoError(t, err)

	sess := conn.OpenSession()
	tx, err := sess.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("mine"), []byte("pending")))

	c, err := sess.OpenCursor(cursor.KindBlock, table)
	require.NoError(t, err)
	bc := c.(*cursor.BlockCursor)

	// A live cursor in the writing session observes its own pending rows.
	keys, _, n, err := bc.NextRawN()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "mine", string(keys[0]))

	require.NoError(t, bc.Close())
	require.NoError(t, tx.Rollback())
	require.NoError(t, sess.Close())
}

func TestSessionScratchBuffers(t *testing.T) {
	conn := openTest(t)
	sess := conn.OpenSession()

	buf := sess.ScratchAcquire(128)
	require.NotNil(t, buf)
	assert.GreaterOrEqual(t, buf.MemSize(), 128)
	sess.ScratchRelease(buf)

	// The released buffer is reused.
	buf2 := sess.ScratchAcquire(64)
	assert.Same(t, buf, buf2)
	sess.ScratchRelease(buf2)
	require.NoError(t, sess.Close())
}

func TestSessionQuietCorruptFlag(t *testing.T) {
	conn := openTest(t)

	sess := conn.OpenSession()
	assert.False(t, sess.QuietCorrupt())
	require.NoError(t, sess.Configure("quiet_corrupt"))
	assert.True(t, sess.QuietCorrupt())

	verify := conn.OpenSession()
	require.NoError(t, verify.Configure("verify"))
	assert.True(t, verify.QuietCorrupt(), "verify mode reads corruption quietly")
}

func TestSessionCloseRollsBackTransaction(t *testing.T) {
	conn := openTest(t)
	table, err := conn.Database().CreateTable("t", "")
	require.NoError(t, err)

	sess := conn.OpenSession()
	tx, err := sess.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(table, []byte("k"), []byte("v")))
	require.NoError(t, sess.Close())
	assert.Equal(t, txn.TxnAborted, tx.State())

	_, err = table.Get([]byte("k"))
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}
