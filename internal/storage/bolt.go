// Package storage — bolt.go
//
// BoltDB-backed durable mirror of ldtcguard's bounded-retention LREG
// history and the partition/Δt-governance state, so a
// restarted process can resume operational continuity.
//
// This is additive persistence for operational continuity, not a
// substitute for the mandatory append-only audit JSONL file, and it is
// never read by internal/exporter or internal/audit —
// it mirrors what LREG already holds in memory, it does not create a new
// raw-data export surface. Callers needing the externally-safe projection
// must still go through lreg.LREG.Derive().
//
// Schema (BoltDB bucket layout):
//
//	/lentries
//	    key:   zero-padded 20-digit decimal window counter (sortable)
//	    value: JSON-encoded LEntryRecord (mirrors lreg.Entry, raw fields included)
//
//	/partition
//	    key:   "current"
//	    value: JSON-encoded PartitionSnapshot
//
//	/dtguard
//	    key:   "current"
//	    value: JSON-encoded DtGuardSnapshot
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Retention: LEntry records older than retentionDays (by WrittenAt) are
// pruned when PruneOldLEntries is called, which cmd/ldtcguard does once at
// startup. Partition/Δt-guard
// snapshots are single-key overwrites and are never pruned.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(); the process logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error; callers log and continue
//     without persisting (in-memory LREG/partition state is unaffected).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/ldtcguard/ldtcguard.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default LEntry retention period.
	DefaultRetentionDays = 30

	bucketLEntries  = "lentries"
	bucketPartition = "partition"
	bucketDtGuard   = "dtguard"
	bucketMeta      = "meta"
)

// LEntryRecord is the persisted mirror of one internal/lreg.Entry, keyed by
// its monotonic window counter. It carries the same raw fields LREG holds
// in memory; it is never exposed through internal/exporter or
// internal/audit, which only ever see lreg.Derived.
type LEntryRecord struct {
	Counter   uint64    `json:"counter"`
	LLoop     float64   `json:"l_loop"`
	LEx       float64   `json:"l_ex"`
	CILoopLo  float64   `json:"ci_loop_lo"`
	CILoopHi  float64   `json:"ci_loop_hi"`
	CIExLo    float64   `json:"ci_ex_lo"`
	CIExHi    float64   `json:"ci_ex_hi"`
	MDb       float64   `json:"m_db"`
	NC1Pass   bool      `json:"nc1_pass"`
	WrittenAt time.Time `json:"written_at"`
}

// PartitionSnapshot is the persisted form of internal/partition.Manager's
// current state, for resuming a run after restart.
type PartitionSnapshot struct {
	C       []int     `json:"c"`
	Ex      []int     `json:"ex"`
	Flips   int       `json:"flips"`
	Frozen  bool      `json:"frozen"`
	SavedAt time.Time `json:"saved_at"`
}

// DtGuardSnapshot is the persisted form of internal/scheduler.DtGuard's
// hourly change-window state.
type DtGuardSnapshot struct {
	WindowStart  time.Time   `json:"window_start"`
	ChangeTimes  []time.Time `json:"change_times"`
	LastChangeAt time.Time   `json:"last_change_at"`
	CurrentDtSec float64     `json:"current_dt_sec"`
	SavedAt      time.Time   `json:"saved_at"`
}

// DB wraps a BoltDB instance with typed accessors for ldtcguard data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLEntries, bucketPartition, bucketDtGuard, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── LEntry mirror ────────────────────────────────────────────────────────

func lentryKey(counter uint64) []byte {
	return []byte(fmt.Sprintf("%020d", counter))
}

// PutLEntry writes or overwrites the durable mirror of one LREG entry.
func (d *DB) PutLEntry(rec LEntryRecord) error {
	if rec.WrittenAt.IsZero() {
		rec.WrittenAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutLEntry marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLEntries))
		return b.Put(lentryKey(rec.Counter), data)
	})
}

// GetLEntry retrieves the durable mirror for a window counter. Returns
// (nil, nil) if no record exists for that counter.
func (d *DB) GetLEntry(counter uint64) (*LEntryRecord, error) {
	var rec LEntryRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLEntries))
		data := b.Get(lentryKey(counter))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetLEntry(%d): %w", counter, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// PruneOldLEntries deletes LEntry mirror records older than retentionDays.
// cmd/ldtcguard calls it once at startup. Returns the number of entries
// deleted.
func (d *DB) PruneOldLEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLEntries))
		c := b.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec LEntryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.WrittenAt.Before(cutoff) {
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldLEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ─── Partition / Δt-guard snapshots ───────────────────────────────────────

// PutPartitionSnapshot persists the current partition state.
func (d *DB) PutPartitionSnapshot(s PartitionSnapshot) error {
	s.SavedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("PutPartitionSnapshot marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPartition)).Put([]byte("current"), data)
	})
}

// GetPartitionSnapshot returns the last persisted partition state, or
// (nil, nil) if none has been saved.
func (d *DB) GetPartitionSnapshot() (*PartitionSnapshot, error) {
	var s PartitionSnapshot
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketPartition)).Get([]byte("current"))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// PutDtGuardSnapshot persists the Δt-governance state.
func (d *DB) PutDtGuardSnapshot(s DtGuardSnapshot) error {
	s.SavedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("PutDtGuardSnapshot marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDtGuard)).Put([]byte("current"), data)
	})
}

// GetDtGuardSnapshot returns the last persisted Δt-guard state, or
// (nil, nil) if none has been saved.
func (d *DB) GetDtGuardSnapshot() (*DtGuardSnapshot, error) {
	var s DtGuardSnapshot
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketDtGuard)).Get([]byte("current"))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}
