package txn

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/emberdb/ember/internal/errors"
)

// TableKind identifies the underlying store layout.
type TableKind int

const (
	// RowStore keys and values are raw byte strings in key order.
	RowStore TableKind = iota
	// ColumnStore is recognized in configuration but not iterable by
	// block cursors.
	ColumnStore
)

// keyHistory is the version chain of one key: committed updates ordered
// by commit timestamp, plus at most one live pending or prepared update
// per writing transaction.
type keyHistory struct {
	key       []byte
	committed []*Update
	pending   []*Update
}

func lessHistory(a, b *keyHistory) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Table is a named mapping from key to key history. Keys are unique;
// iteration order is lexicographic on key bytes.
type Table struct {
	name        string
	kind        TableKind
	keyFormat   string
	valueFormat string

	mu   sync.RWMutex
	tree *btree.BTreeG[*keyHistory]
}

const tableTreeDegree = 16

func newTable(name string, kind TableKind, keyFormat, valueFormat string) *Table {
	return &Table{
		name:        name,
		kind:        kind,
		keyFormat:   keyFormat,
		valueFormat: valueFormat,
		tree:        btree.NewG(tableTreeDegree, lessHistory),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Kind returns the store layout.
func (t *Table) Kind() TableKind { return t.kind }

// KeyFormat returns the configured key format.
func (t *Table) KeyFormat() string { return t.keyFormat }

// ValueFormat returns the configured value format.
func (t *Table) ValueFormat() string { return t.valueFormat }

// history returns the key's history, creating it when create is set.
// Caller holds t.mu.
func (t *Table) history(key []byte, create bool) *keyHistory {
	probe := &keyHistory{key: key}
	if h, ok := t.tree.Get(probe); ok {
		return h
	}
	if !create {
		return nil
	}
	h := &keyHistory{key: append([]byte(nil), key...)}
	t.tree.ReplaceOrInsert(h)
	return h
}

// livePending returns the key's live non-committed update, if any.
// Caller holds t.mu.
func (h *keyHistory) livePending() *Update {
	for _, u := range h.pending {
		if u.State == UpdatePending || u.State == UpdatePrepared {
			return u
		}
	}
	return nil
}

// dropPending removes a transaction's live update. Caller holds t.mu.
func (h *keyHistory) dropPending(id TxnID) {
	out := h.pending[:0]
	for _, u := range h.pending {
		if u.TxnID != id {
			out = append(out, u)
		}
	}
	h.pending = out
}

// visibleAt returns the committed update with the greatest commit
// timestamp not after ts, or nil.
func (h *keyHistory) visibleAt(ts Timestamp) *Update {
	for i := len(h.committed) - 1; i >= 0; i-- {
		if h.committed[i].CommitTs <= ts {
			return h.committed[i]
		}
	}
	return nil
}

// Get returns the latest committed value for key.
func (t *Table) Get(key []byte) ([]byte, error) {
	return t.GetAt(key, TsLatest)
}

// GetAt returns the committed value visible at the read timestamp. A
// prepared update from another transaction that would be the visible
// candidate fails the read with a prepare conflict instead of returning
// the prior committed value.
func (t *Table) GetAt(key []byte, ts Timestamp) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history(key, false)
	if h == nil {
		return nil, errors.New(errors.CodeNotFound, "key not found")
	}
	u, err := h.read(ts)
	if err != nil {
		return nil, err
	}
	return u.Value, nil
}

// read resolves the visible update for a snapshot reader at ts, surfacing
// prepare conflicts and absence. Caller holds t.mu.
func (h *keyHistory) read(ts Timestamp) (*Update, error) {
	for _, u := range h.pending {
		if u.State == UpdatePrepared && (ts == TsLatest || ts >= u.PrepareTs) {
			return nil, errors.New(errors.CodePrepareConflict,
				"conflict with a prepared but not yet committed transaction")
		}
	}
	u := h.visibleAt(ts)
	if u == nil || u.Tombstone {
		return nil, errors.New(errors.CodeNotFound, "key not found")
	}
	return u, nil
}

// ascend visits histories with keys greater than after in order; the
// visit stops when fn returns false. A nil after starts at the first key.
func (t *Table) ascend(after []byte, fn func(h *keyHistory) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if after == nil {
		t.tree.Ascend(fn)
		return
	}
	t.tree.AscendGreaterOrEqual(&keyHistory{key: after}, func(h *keyHistory) bool {
		if bytes.Equal(h.key, after) {
			return true
		}
		return fn(h)
	})
}

// descend visits histories with keys less than before in reverse order.
// A nil before starts at the last key.
func (t *Table) descend(before []byte, fn func(h *keyHistory) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if before == nil {
		t.tree.Descend(fn)
		return
	}
	t.tree.DescendLessOrEqual(&keyHistory{key: before}, func(h *keyHistory) bool {
		if bytes.Equal(h.key, before) {
			return true
		}
		return fn(h)
	})
}
