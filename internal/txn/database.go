package txn

import (
	"sort"
	"sync"

	"github.com/emberdb/ember/internal/config"
	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/log"
)

// Database is the transactional KV model: tables, the stable timestamp,
// checkpoints, and the set of active transactions.
type Database struct {
	mu sync.Mutex

	tables map[string]*Table

	stableTs  Timestamp
	stableSet bool

	named   map[string]*Checkpoint
	unnamed *Checkpoint

	active map[TxnID]*Transaction
	ids    txnIDs

	logger log.Logger
}

// NewDatabase creates an empty database.
func NewDatabase() *Database {
	return &Database{
		tables: make(map[string]*Table),
		named:  make(map[string]*Checkpoint),
		active: make(map[TxnID]*Transaction),
		logger: log.Default().With("component", "txn"),
	}
}

// CreateTable creates a table. The configuration string recognizes
// key_format, value_format (default "u", raw bytes) and type (default
// "row").
func (d *Database) CreateTable(name, cfgStr string) (*Table, error) {
	cfg, err := config.Parse(cfgStr)
	if err != nil {
		return nil, err
	}
	kind := RowStore
	if cfg.String("type", "row") == "column" {
		kind = ColumnStore
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[name]; ok {
		return nil, errors.Newf(errors.CodeDuplicateKey, "table %q already exists", name)
	}
	t := newTable(name, kind, cfg.String("key_format", "u"), cfg.String("value_format", "u"))
	d.tables[name] = t
	return t, nil
}

// Table returns the named table.
func (d *Database) Table(name string) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no table %q", name)
	}
	return t, nil
}

// Begin starts a transaction. An optional configuration string carries
// the transaction timestamps.
func (d *Database) Begin(cfg ...string) (*Transaction, error) {
	t := &Transaction{id: d.ids.nextID(), db: d, state: TxnActive}
	for _, c := range cfg {
		if err := t.Configure(c); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	d.active[t.id] = t
	d.mu.Unlock()
	return t, nil
}

// SetStableTimestamp advances the stable timestamp. Once set it only
// increases; attempts to move it backwards are silently ignored.
func (d *Database) SetStableTimestamp(ts Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stableSet && ts <= d.stableTs {
		return
	}
	d.stableTs = ts
	d.stableSet = true
}

// SetTimestamp applies a database timestamp configuration string, e.g.
// "stable_timestamp=3c".
func (d *Database) SetTimestamp(cfgStr string) error {
	cfg, err := config.Parse(cfgStr)
	if err != nil {
		return err
	}
	ts, ok, err := cfg.Uint64Hex("stable_timestamp")
	if err != nil {
		return err
	}
	if ok {
		d.SetStableTimestamp(Timestamp(ts))
	}
	return nil
}

// StableTimestamp returns the current stable timestamp, TsNone when it
// was never set.
func (d *Database) StableTimestamp() Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stableSet {
		return TsNone
	}
	return d.stableTs
}

// commit is the commit serialization point: it orders the transaction's
// updates into their key histories atomically.
func (d *Database) commit(t *Transaction, cts, dts Timestamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// No two committed updates for one key may share a commit timestamp.
	if cts != TsNone {
		for _, w := range t.writes {
			w.table.mu.RLock()
			for _, u := range w.hist.committed {
				if u.CommitTs == cts {
					w.table.mu.RUnlock()
					return errors.Newf(errors.CodeRollback,
						"commit timestamp %d already used for this key", cts)
				}
			}
			w.table.mu.RUnlock()
		}
	}

	for _, w := range t.writes {
		w.table.mu.Lock()
		w.upd.CommitTs = cts
		w.upd.DurableTs = dts
		w.upd.State = UpdateCommitted
		w.hist.dropPending(t.id)
		w.hist.insertCommitted(w.upd)
		w.table.mu.Unlock()
	}
	delete(d.active, t.id)
	return nil
}

// finish drops an aborted transaction from the active set.
func (d *Database) finish(t *Transaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, t.id)
}

// insertCommitted places an update into the committed history in commit
// timestamp order. Caller holds the table lock.
func (h *keyHistory) insertCommitted(u *Update) {
	i := sort.Search(len(h.committed), func(i int) bool {
		return h.committed[i].CommitTs > u.CommitTs
	})
	h.committed = append(h.committed, nil)
	copy(h.committed[i+1:], h.committed[i:])
	h.committed[i] = u
}

// CreateCheckpoint creates a checkpoint. A named checkpoint is
// addressable by name; an empty name replaces the prior unnamed
// checkpoint. A checkpoint created before any stable timestamp was set
// captures all committed data; afterwards it is bounded by the stable
// timestamp at creation.
func (d *Database) CreateCheckpoint(name string) (*Checkpoint, error) {
	// Holding the database lock excludes the commit serialization point,
	// so the captured state is a consistent cut.
	d.mu.Lock()
	defer d.mu.Unlock()

	bound := TsLatest
	stableAt := TsNone
	if d.stableSet {
		bound = d.stableTs
		stableAt = d.stableTs
	}
	ckpt := materializeCheckpoint(name, stableAt, bound, d.tables)

	if name == "" {
		d.unnamed = ckpt
	} else {
		d.named[name] = ckpt
	}
	d.logger.Debug("checkpoint created", "name", name, "stable", uint64(stableAt))
	return ckpt, nil
}

// Checkpoint returns the named checkpoint; the empty name selects the
// most recent unnamed checkpoint.
func (d *Database) Checkpoint(name string) (*Checkpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		if d.unnamed == nil {
			return nil, errors.New(errors.CodeNotFound, "no unnamed checkpoint")
		}
		return d.unnamed, nil
	}
	ckpt, ok := d.named[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no checkpoint %q", name)
	}
	return ckpt, nil
}
