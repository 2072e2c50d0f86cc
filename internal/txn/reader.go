package txn

import (
	"github.com/emberdb/ember/internal/errors"
)

// Reader is the visibility scope a tree walk observes: the live table
// under a snapshot, or a checkpoint's frozen image. Next and Prev return
// the nearest visible row strictly beyond the given key (nil means "from
// the edge"); keys whose visible version is absent are skipped, while a
// prepare conflict stops the walk and surfaces.
type Reader interface {
	Next(after []byte) (key, value []byte, err error)
	Prev(before []byte) (key, value []byte, err error)
	Search(key []byte) (value []byte, err error)
}

// LiveReader reads the live table: the transaction's own pending writes
// first, then the snapshot at the read timestamp.
type LiveReader struct {
	Table  *Table
	Txn    *Transaction // optional
	ReadTs Timestamp    // TsNone reads latest committed
}

func (r *LiveReader) ts() Timestamp {
	if r.Txn != nil {
		if ts := r.Txn.ReadTimestamp(); ts != TsNone {
			return ts
		}
	}
	if r.ReadTs == TsNone {
		return TsLatest
	}
	return r.ReadTs
}

// checkTxn fails the walk when the enclosing transaction was rolled back
// underneath it.
func (r *LiveReader) checkTxn() error {
	if r.Txn == nil {
		return nil
	}
	switch r.Txn.State() {
	case TxnAborted:
		return errors.New(errors.CodeRollback, "transaction rolled back during walk")
	case TxnCommitted:
		return errors.New(errors.CodeRollback, "transaction committed during walk")
	}
	return nil
}

// resolve reads one history in the walk's scope. The timestamp and
// transaction ID are captured before the tree visit; the caller holds the
// table lock throughout.
func (r *LiveReader) resolve(h *keyHistory, ts Timestamp, txnID TxnID) ([]byte, error) {
	if txnID != 0 {
		for _, u := range h.pending {
			if u.TxnID == txnID &&
				(u.State == UpdatePending || u.State == UpdatePrepared) {
				if u.Tombstone {
					return nil, errors.New(errors.CodeNotFound, "key not found")
				}
				return u.Value, nil
			}
		}
	}
	u, err := h.read(ts)
	if err != nil {
		return nil, err
	}
	return u.Value, nil
}

// scope captures the walk's visibility inputs outside the table lock.
func (r *LiveReader) scope() (Timestamp, TxnID) {
	var id TxnID
	if r.Txn != nil {
		id = r.Txn.ID()
	}
	return r.ts(), id
}

// Next implements Reader.
func (r *LiveReader) Next(after []byte) (key, value []byte, err error) {
	if err = r.checkTxn(); err != nil {
		return nil, nil, err
	}
	ts, txnID := r.scope()
	err = errors.New(errors.CodeNotFound, "end of table")
	r.Table.ascend(after, func(h *keyHistory) bool {
		v, rerr := r.resolve(h, ts, txnID)
		if errors.IsCode(rerr, errors.CodeNotFound) {
			return true
		}
		key, value, err = h.key, v, rerr
		return false
	})
	return key, value, err
}

// Prev implements Reader.
func (r *LiveReader) Prev(before []byte) (key, value []byte, err error) {
	if err = r.checkTxn(); err != nil {
		return nil, nil, err
	}
	ts, txnID := r.scope()
	err = errors.New(errors.CodeNotFound, "end of table")
	r.Table.descend(before, func(h *keyHistory) bool {
		v, rerr := r.resolve(h, ts, txnID)
		if errors.IsCode(rerr, errors.CodeNotFound) {
			return true
		}
		key, value, err = h.key, v, rerr
		return false
	})
	return key, value, err
}

// Search implements Reader.
func (r *LiveReader) Search(key []byte) ([]byte, error) {
	if err := r.checkTxn(); err != nil {
		return nil, err
	}
	ts, txnID := r.scope()
	r.Table.mu.RLock()
	defer r.Table.mu.RUnlock()
	h := r.Table.history(key, false)
	if h == nil {
		return nil, errors.New(errors.CodeNotFound, "key not found")
	}
	return r.resolve(h, ts, txnID)
}

// CheckpointReader reads a checkpoint's frozen image of one table,
// optionally bounded further by a debug read timestamp.
type CheckpointReader struct {
	Ckpt   *Checkpoint
	Table  string
	ReadTs Timestamp // TsNone reads the whole captured set
}

func (r *CheckpointReader) ts() Timestamp {
	if r.ReadTs == TsNone {
		return TsLatest
	}
	return r.ReadTs
}

func (r *CheckpointReader) table() (*ckptTable, error) {
	ct, ok := r.Ckpt.tables[r.Table]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no table %q in checkpoint", r.Table)
	}
	return ct, nil
}

// Next implements Reader.
func (r *CheckpointReader) Next(after []byte) (key, value []byte, err error) {
	ct, err := r.table()
	if err != nil {
		return nil, nil, err
	}
	err = errors.New(errors.CodeNotFound, "end of table")
	ct.ascend(after, func(e *ckptEntry) bool {
		v := e.visibleAt(r.ts())
		if v == nil || v.tombstone {
			return true
		}
		key, value, err = e.key, v.value, nil
		return false
	})
	return key, value, err
}

// Prev implements Reader.
func (r *CheckpointReader) Prev(before []byte) (key, value []byte, err error) {
	ct, err := r.table()
	if err != nil {
		return nil, nil, err
	}
	err = errors.New(errors.CodeNotFound, "end of table")
	ct.descend(before, func(e *ckptEntry) bool {
		v := e.visibleAt(r.ts())
		if v == nil || v.tombstone {
			return true
		}
		key, value, err = e.key, v.value, nil
		return false
	})
	return key, value, err
}

// Search implements Reader.
func (r *CheckpointReader) Search(key []byte) ([]byte, error) {
	_, err := r.table()
	if err != nil {
		return nil, err
	}
	return r.Ckpt.GetAt(r.Table, key, r.ts())
}
