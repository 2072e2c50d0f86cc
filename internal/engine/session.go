package engine

import (
	"github.com/emberdb/ember/internal/config"
	"github.com/emberdb/ember/internal/cursor"
	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/storage"
	"github.com/emberdb/ember/internal/txn"
)

// Session is a per-caller handle: read flags, an optional checkpoint
// binding for cursor scopes, and a scratch buffer pool with paired
// acquire/release.
type Session struct {
	conn *Connection

	quietCorrupt bool
	verify       bool

	txn *txn.Transaction

	ckpt   *txn.Checkpoint
	ckptTs txn.Timestamp

	scratch []*storage.Buf
}

// Configure applies a session configuration string. Recognized keys:
// quiet_corrupt, verify, and the checkpoint binding
// "checkpoint=<name>[,debug=(checkpoint_read_timestamp=<hex>)]".
func (s *Session) Configure(cfgStr string) error {
	cfg, err := config.Parse(cfgStr)
	if err != nil {
		return err
	}
	s.quietCorrupt = cfg.Bool("quiet_corrupt", s.quietCorrupt)
	s.verify = cfg.Bool("verify", s.verify)
	if cfg.Has("checkpoint") {
		name := cfg.String("checkpoint", "")
		ckpt, err := s.conn.db.Checkpoint(name)
		if err != nil {
			return err
		}
		s.ckpt = ckpt
		s.ckptTs = txn.TsNone
		if debug := cfg.Sub("debug"); debug != nil {
			ts, ok, err := debug.Uint64Hex("checkpoint_read_timestamp")
			if err != nil {
				return err
			}
			if ok {
				s.ckptTs = txn.Timestamp(ts)
			}
		}
	}
	return nil
}

// QuietCorrupt implements storage.ReadSession: checksum failures are
// reported quietly and surface as recoverable errors.
func (s *Session) QuietCorrupt() bool {
	return s.quietCorrupt || s.verify
}

// Begin starts a transaction bound to the session.
func (s *Session) Begin(cfg ...string) (*txn.Transaction, error) {
	if s.txn != nil {
		switch s.txn.State() {
		case txn.TxnActive, txn.TxnPrepared:
			return nil, errors.New(errors.CodeInvalidArgument,
				"session already has a running transaction")
		}
	}
	t, err := s.conn.db.Begin(cfg...)
	if err != nil {
		return nil, err
	}
	s.txn = t
	return t, nil
}

// Txn returns the session's running transaction, nil if none.
func (s *Session) Txn() *txn.Transaction {
	if s.txn == nil {
		return nil
	}
	switch s.txn.State() {
	case txn.TxnActive, txn.TxnPrepared:
		return s.txn
	}
	return nil
}

// Checkpoint returns the session's checkpoint binding, nil if none.
func (s *Session) Checkpoint() *txn.Checkpoint { return s.ckpt }

// reader builds the read scope for a table walk: the bound checkpoint
// when one is configured, the session's snapshot rules otherwise.
func (s *Session) reader(table *txn.Table) txn.Reader {
	if s.ckpt != nil {
		return &txn.CheckpointReader{Ckpt: s.ckpt, Table: table.Name(), ReadTs: s.ckptTs}
	}
	return &txn.LiveReader{Table: table, Txn: s.Txn()}
}

// OpenCursor opens a cursor of the given kind on a table.
func (s *Session) OpenCursor(kind cursor.Kind, table *txn.Table) (cursor.Cursor, error) {
	bt, err := cursor.NewBtreeCursor(table, cursor.BtreeCursorOptions{
		Txn:    s.Txn(),
		Reader: s.reader(table),
		Alloc:  s.conn.alloc,
	})
	if err != nil {
		return nil, err
	}
	switch kind {
	case cursor.KindBtree:
		return bt, nil
	case cursor.KindBlock:
		return cursor.NewBlockCursor(bt)
	}
	return nil, errors.Newf(errors.CodeInvalidArgument, "unknown cursor kind %d", kind)
}

// ScratchAcquire returns a scratch buffer of at least n bytes. Every
// acquire must be paired with a ScratchRelease on all exit paths.
func (s *Session) ScratchAcquire(n int) *storage.Buf {
	if len(s.scratch) > 0 {
		buf := s.scratch[len(s.scratch)-1]
		s.scratch = s.scratch[:len(s.scratch)-1]
		buf.Grow(n)
		return buf
	}
	return storage.NewBuf(n)
}

// ScratchRelease returns a scratch buffer to the session pool.
func (s *Session) ScratchRelease(buf *storage.Buf) {
	buf.Reset()
	s.scratch = append(s.scratch, buf)
}

// Close releases the session.
func (s *Session) Close() error {
	if t := s.Txn(); t != nil {
		if err := t.Rollback(); err != nil {
			return err
		}
	}
	s.scratch = nil
	return nil
}
