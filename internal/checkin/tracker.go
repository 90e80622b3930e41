// Package checkin implements the filesystem <-> store boundary (spec §4.5):
// walking a directory tree into content-addressed objects (checkin) and
// materialising an artifact-id back onto disk (checkout).
package checkin

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tangramcore/tangram/internal/id"
)

var bucketTrackers = []byte("trackers")

// Tracker persists the artifact tracker table described in spec §4.5 and
// §6.1: on-disk path -> (artifact-id, mtime-seconds, mtime-nanos), backed by
// its own bbolt file (trackers.db) separate from the block store's
// tangram.db, matching the layout's separate-files convention.
type Tracker struct {
	db *bolt.DB
}

// OpenTracker opens (creating if absent) dataDir/trackers.db.
func OpenTracker(dataDir string) (*Tracker, error) {
	dbPath := filepath.Join(dataDir, "trackers.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkin: failed to open tracker table: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTrackers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Tracker{db: db}, nil
}

func (t *Tracker) Close() error { return t.db.Close() }

// entry is the fixed-width record stored under each path key: 32-byte
// artifact id, 8-byte mtime seconds, 8-byte mtime nanos.
type entry struct {
	artifact id.ID
	sec      int64
	nsec     int64
}

const entrySize = id.Size + 8 + 8

func (e entry) encode() []byte {
	buf := make([]byte, entrySize)
	copy(buf, e.artifact[:])
	binary.BigEndian.PutUint64(buf[id.Size:], uint64(e.sec))
	binary.BigEndian.PutUint64(buf[id.Size+8:], uint64(e.nsec))
	return buf
}

func decodeEntry(buf []byte) (entry, bool) {
	if len(buf) != entrySize {
		return entry{}, false
	}
	var e entry
	copy(e.artifact[:], buf[:id.Size])
	e.sec = int64(binary.BigEndian.Uint64(buf[id.Size:]))
	e.nsec = int64(binary.BigEndian.Uint64(buf[id.Size+8:]))
	return e, true
}

// Lookup returns the tracked artifact id for path iff its recorded mtime
// matches mtime exactly; otherwise it reports a miss so the caller re-walks.
func (t *Tracker) Lookup(path string, mtime time.Time) (id.ID, bool, error) {
	var found entry
	var ok bool
	err := t.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTrackers).Get([]byte(path))
		if data == nil {
			return nil
		}
		e, valid := decodeEntry(data)
		if !valid {
			return nil
		}
		found, ok = e, true
		return nil
	})
	if err != nil {
		return id.Nil, false, err
	}
	if !ok || found.sec != mtime.Unix() || found.nsec != int64(mtime.Nanosecond()) {
		return id.Nil, false, nil
	}
	return found.artifact, true, nil
}

// Record stores path's current artifact id and mtime, superseding any prior
// entry for the same path.
func (t *Tracker) Record(path string, artifact id.ID, mtime time.Time) error {
	e := entry{artifact: artifact, sec: mtime.Unix(), nsec: int64(mtime.Nanosecond())}
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrackers).Put([]byte(path), e.encode())
	})
}

// Forget removes any tracked entry for path, so a later Lookup for it misses.
// Checkout does not call it: Record already supersedes a prior entry.
func (t *Tracker) Forget(path string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrackers).Delete([]byte(path))
	})
}
