package txn

import (
	"bytes"
	"sync"

	"github.com/emberdb/ember/internal/config"
	"github.com/emberdb/ember/internal/errors"
)

// writeOp records one write of a transaction with the history it entered.
type writeOp struct {
	table *Table
	hist  *keyHistory
	upd   *Update
}

// Transaction is a unit of atomic work against the database. State
// machine: active -> (prepared?) -> committed | aborted; terminal states
// are immutable.
type Transaction struct {
	id TxnID
	db *Database

	mu        sync.Mutex
	state     TxnState
	readTs    Timestamp
	prepareTs Timestamp
	commitTs  Timestamp
	durableTs Timestamp
	writes    []writeOp
}

// ID returns the transaction identifier.
func (t *Transaction) ID() TxnID { return t.id }

// State returns the current lifecycle state.
func (t *Transaction) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReadTimestamp returns the transaction's read timestamp, TsNone when the
// transaction reads latest committed data.
func (t *Transaction) ReadTimestamp() Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTs
}

// Configure applies a transaction configuration string, e.g.
// "read_timestamp=1e". Recognized keys: read_timestamp, commit_timestamp,
// durable_timestamp, prepare_timestamp, all hex-encoded.
func (t *Transaction) Configure(cfgStr string) error {
	cfg, err := config.Parse(cfgStr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ts, ok, err := cfg.Uint64Hex("read_timestamp"); err != nil {
		return err
	} else if ok {
		t.readTs = Timestamp(ts)
	}
	if ts, ok, err := cfg.Uint64Hex("commit_timestamp"); err != nil {
		return err
	} else if ok {
		t.commitTs = Timestamp(ts)
	}
	if ts, ok, err := cfg.Uint64Hex("durable_timestamp"); err != nil {
		return err
	} else if ok {
		t.durableTs = Timestamp(ts)
	}
	if ts, ok, err := cfg.Uint64Hex("prepare_timestamp"); err != nil {
		return err
	} else if ok {
		t.prepareTs = Timestamp(ts)
	}
	return nil
}

// Insert writes key=value in the transaction.
func (t *Transaction) Insert(table *Table, key, value []byte) error {
	return t.write(table, key, append([]byte(nil), value...), false)
}

// Remove writes a tombstone for key in the transaction.
func (t *Transaction) Remove(table *Table, key []byte) error {
	return t.write(table, key, nil, true)
}

// write enters a pending update for the key. A live update from another
// transaction is a write-write conflict and rolls this operation back.
func (t *Transaction) write(table *Table, key, value []byte, tombstone bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case TxnActive:
	case TxnPrepared:
		return errors.Abortf("write in a prepared transaction")
	default:
		return errors.Abortf("write in a %s transaction", t.state)
	}

	table.mu.Lock()
	defer table.mu.Unlock()

	h := table.history(key, true)
	if live := h.livePending(); live != nil {
		if live.TxnID != t.id {
			return errors.New(errors.CodeRollback,
				"conflict between concurrent operations")
		}
		// Same transaction overwrites its own pending update.
		live.Value = value
		live.Tombstone = tombstone
		return nil
	}

	upd := &Update{
		TxnID:     t.id,
		Value:     value,
		Tombstone: tombstone,
		State:     UpdatePending,
	}
	h.pending = append(h.pending, upd)
	t.writes = append(t.writes, writeOp{table: table, hist: h, upd: upd})
	return nil
}

// Get reads key in the transaction's scope: its own pending writes first,
// then the snapshot at its read timestamp.
func (t *Transaction) Get(table *Table, key []byte) ([]byte, error) {
	t.mu.Lock()
	if t.state != TxnActive && t.state != TxnPrepared {
		t.mu.Unlock()
		return nil, errors.Abortf("read in a %s transaction", t.state)
	}
	for i := len(t.writes) - 1; i >= 0; i-- {
		w := t.writes[i]
		if w.table == table && bytes.Equal(w.hist.key, key) {
			t.mu.Unlock()
			if w.upd.Tombstone {
				return nil, errors.New(errors.CodeNotFound, "key not found")
			}
			return w.upd.Value, nil
		}
	}
	readTs := t.readTs
	t.mu.Unlock()

	if readTs == TsNone {
		readTs = TsLatest
	}
	return table.GetAt(key, readTs)
}

// Prepare transitions the transaction to the prepared state, reserving
// its writes while deferring visibility. The prepare timestamp must be
// after the stable timestamp.
func (t *Transaction) Prepare(ts Timestamp) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TxnActive {
		return errors.Abortf("prepare in a %s transaction", t.state)
	}
	if stable := t.db.StableTimestamp(); stable != TsNone && ts <= stable {
		return errors.Abortf(
			"prepare timestamp %d must be after the stable timestamp %d", ts, stable)
	}

	t.prepareTs = ts
	t.state = TxnPrepared
	for _, w := range t.writes {
		w.table.mu.Lock()
		w.upd.PrepareTs = ts
		w.upd.State = UpdatePrepared
		w.table.mu.Unlock()
	}
	return nil
}

// Commit commits the transaction at the commit timestamp; the optional
// second timestamp is the durable timestamp and defaults to the commit
// timestamp.
func (t *Transaction) Commit(commitTs Timestamp, durableTs ...Timestamp) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case TxnActive, TxnPrepared:
	default:
		return errors.Abortf("commit in a %s transaction", t.state)
	}

	cts := commitTs
	if cts == TsNone {
		cts = t.commitTs
	}
	dts := t.durableTs
	if len(durableTs) > 0 {
		dts = durableTs[0]
	}
	if dts == TsNone {
		dts = cts
	}

	if t.state == TxnPrepared {
		if cts == TsNone {
			return errors.Abortf("prepared transaction requires a commit timestamp")
		}
		if cts < t.prepareTs {
			return errors.Abortf(
				"commit timestamp %d is before the prepare timestamp %d", cts, t.prepareTs)
		}
		if stable := t.db.StableTimestamp(); stable != TsNone && cts < stable {
			return errors.Abortf(
				"commit timestamp %d is before the stable timestamp %d", cts, stable)
		}
	}
	if cts != TsNone && dts < cts {
		return errors.Abortf(
			"durable timestamp %d is before the commit timestamp %d", dts, cts)
	}

	if err := t.db.commit(t, cts, dts); err != nil {
		return err
	}
	t.commitTs = cts
	t.durableTs = dts
	t.state = TxnCommitted
	return nil
}

// Rollback aborts the transaction and discards its writes.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case TxnActive, TxnPrepared:
	default:
		return errors.Abortf("rollback in a %s transaction", t.state)
	}

	for _, w := range t.writes {
		w.table.mu.Lock()
		w.upd.State = UpdateAborted
		w.hist.dropPending(t.id)
		w.table.mu.Unlock()
	}
	t.writes = nil
	t.state = TxnAborted
	t.db.finish(t)
	return nil
}
