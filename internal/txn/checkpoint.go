package txn

import (
	"bytes"

	"github.com/google/btree"

	"github.com/emberdb/ember/internal/errors"
)

// version is one committed value captured by a checkpoint.
type version struct {
	commitTs Timestamp
	value    []byte
	tombstone bool
}

// ckptEntry is a key's captured versions, ordered by commit timestamp.
type ckptEntry struct {
	key      []byte
	versions []version
}

func lessCkptEntry(a, b *ckptEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// ckptTable is a checkpoint's frozen image of one table.
type ckptTable struct {
	tree *btree.BTreeG[*ckptEntry]
}

// Checkpoint is an immutable logical snapshot of the database. Named
// checkpoints are addressable by name; the visible set is fixed at
// creation and never mutates, so checkpoints are freely shareable across
// threads.
type Checkpoint struct {
	name     string
	stableAt Timestamp // Stable timestamp at creation, TsNone if unset
	tables   map[string]*ckptTable
}

// materializeCheckpoint captures the committed state visible at bound.
// An update is captured when its commit and durable timestamps are both
// at or before the bound.
func materializeCheckpoint(name string, stableAt, bound Timestamp, tables map[string]*Table) *Checkpoint {
	ckpt := &Checkpoint{
		name:     name,
		stableAt: stableAt,
		tables:   make(map[string]*ckptTable, len(tables)),
	}
	for tname, t := range tables {
		ct := &ckptTable{tree: btree.NewG(tableTreeDegree, lessCkptEntry)}
		t.mu.RLock()
		t.tree.Ascend(func(h *keyHistory) bool {
			var versions []version
			for _, u := range h.committed {
				if u.CommitTs > bound || u.DurableTs > bound {
					continue
				}
				versions = append(versions, version{
					commitTs:  u.CommitTs,
					value:     u.Value,
					tombstone: u.Tombstone,
				})
			}
			if len(versions) > 0 {
				ct.tree.ReplaceOrInsert(&ckptEntry{key: h.key, versions: versions})
			}
			return true
		})
		t.mu.RUnlock()
		ckpt.tables[tname] = ct
	}
	return ckpt
}

// Name returns the checkpoint name, empty for the unnamed checkpoint.
func (c *Checkpoint) Name() string { return c.name }

// StableTimestamp returns the stable timestamp recorded at creation,
// TsNone when the checkpoint was created before any stable timestamp.
func (c *Checkpoint) StableTimestamp() Timestamp { return c.stableAt }

// Get returns the checkpoint's value for key in the named table.
func (c *Checkpoint) Get(table string, key []byte) ([]byte, error) {
	return c.GetAt(table, key, TsLatest)
}

// GetAt reads with a debug read timestamp overlaid on the checkpoint: an
// additional upper bound on visibility within the captured set.
func (c *Checkpoint) GetAt(table string, key []byte, ts Timestamp) ([]byte, error) {
	ct, ok := c.tables[table]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no table %q in checkpoint", table)
	}
	e, ok := ct.tree.Get(&ckptEntry{key: key})
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "key not found")
	}
	v := e.visibleAt(ts)
	if v == nil || v.tombstone {
		return nil, errors.New(errors.CodeNotFound, "key not found")
	}
	return v.value, nil
}

// visibleAt returns the version with the greatest commit timestamp not
// after ts, or nil.
func (e *ckptEntry) visibleAt(ts Timestamp) *version {
	for i := len(e.versions) - 1; i >= 0; i-- {
		if e.versions[i].commitTs <= ts {
			return &e.versions[i]
		}
	}
	return nil
}

// ascend visits entries with keys greater than after in order.
func (ct *ckptTable) ascend(after []byte, fn func(e *ckptEntry) bool) {
	if after == nil {
		ct.tree.Ascend(fn)
		return
	}
	ct.tree.AscendGreaterOrEqual(&ckptEntry{key: after}, func(e *ckptEntry) bool {
		if bytes.Equal(e.key, after) {
			return true
		}
		return fn(e)
	})
}

// descend visits entries with keys less than before in reverse order.
func (ct *ckptTable) descend(before []byte, fn func(e *ckptEntry) bool) {
	if before == nil {
		ct.tree.Descend(fn)
		return
	}
	ct.tree.DescendLessOrEqual(&ckptEntry{key: before}, func(e *ckptEntry) bool {
		if bytes.Equal(e.key, before) {
			return true
		}
		return fn(e)
	})
}
