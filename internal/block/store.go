package block

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketOutputs = []byte("outputs")
)

// Store is the append-only content-addressed KV described in spec §4.1,
// backed by a single bbolt file (tangram.db) holding the two logical
// tables this package name-checks in its doc comment.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the block store at dataDir/tangram.db, matching the
// teacher's NewBoltStore shape: ensure the data directory's buckets exist
// up front so every later transaction can assume they are there.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "tangram.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("block: failed to open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketOutputs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("block: failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put computes the id of payload and inserts it if new. Put is idempotent:
// inserting the same payload twice is a no-op on the second call.
//
// Put does not enforce closure (unlike TryAdd) because callers that already
// trust their own payload (checkin, evaluator) should not have to pre-walk
// children; TryAdd is reserved for the push/pull boundary where an
// untrusted remote block's declared children must be verified present.
func (s *Store) Put(payload []byte) (id.ID, error) {
	key := id.Hash(payload)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(key[:]) != nil {
			return nil
		}
		return b.Put(key[:], payload)
	})
	return key, err
}

// PutWithID inserts payload under a caller-asserted id, verifying the hash
// matches. A mismatch is a fatal Integrity error (spec §7).
func (s *Store) PutWithID(want id.ID, payload []byte) error {
	got := id.Hash(payload)
	if got != want {
		return tgerror.New(tgerror.KindIntegrity, fmt.Sprintf("block: hash mismatch, wanted %s got %s", want, got))
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		return b.Put(want[:], payload)
	})
}

// Get fetches a block's payload, verifying its integrity on read. Returns a
// KindNotFound error if absent.
func (s *Store) Get(key id.ID) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		data := b.Get(key[:])
		if data == nil {
			return tgerror.NotFound("block: %s not found", key)
		}
		payload = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if got := id.Hash(payload); got != key {
		return nil, tgerror.New(tgerror.KindIntegrity, fmt.Sprintf("block: corrupted entry %s (rehashes to %s)", key, got))
	}
	return payload, nil
}

// Has reports whether key is present locally, without touching the mirror.
func (s *Store) Has(key id.ID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get(key[:]) != nil
		return nil
	})
	return found, err
}

// AddOutcome is the result of TryAdd.
type AddOutcome struct {
	Added           bool
	MissingChildren []id.ID
}

// TryAdd inserts payload only if every declared child id is already
// present, enforcing the store's closure invariant (§3.1, §4.1). Missing
// children are reported, not treated as fatal, so push/pull can fetch them
// and retry (§4.10).
func (s *Store) TryAdd(key id.ID, payload []byte) (AddOutcome, error) {
	if got := id.Hash(payload); got != key {
		return AddOutcome{}, tgerror.New(tgerror.KindIntegrity, fmt.Sprintf("block: hash mismatch, wanted %s got %s", key, got))
	}

	children, err := ChildrenOf(payload)
	if err != nil {
		return AddOutcome{}, tgerror.Wrap(tgerror.KindDecodeError, err, "block: failed to read child header")
	}

	var missing []id.ID
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for _, c := range children {
			if b.Get(c[:]) == nil {
				missing = append(missing, c)
			}
		}
		return nil
	})
	if err != nil {
		return AddOutcome{}, err
	}
	if len(missing) > 0 {
		return AddOutcome{MissingChildren: missing}, nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(key[:], payload)
	})
	if err != nil {
		return AddOutcome{}, err
	}
	return AddOutcome{Added: true}, nil
}

// ChildrenOf reads a block's envelope header only, without decoding the
// body, per spec §4.1.
func (s *Store) ChildrenOf(key id.ID) ([]id.ID, error) {
	payload, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return ChildrenOf(payload)
}

// ReachableFrom performs a worklist traversal over child pointers starting
// at roots, used by garbage collection (§3.3) and by push/pull closure
// checks (§4.10).
func (s *Store) ReachableFrom(roots []id.ID) (id.Set, error) {
	seen := id.NewSet()
	work := append([]id.ID(nil), roots...)
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if seen.Has(cur) {
			continue
		}
		seen.Add(cur)

		children, err := s.ChildrenOf(cur)
		if err != nil {
			if tgerror.Is(err, tgerror.KindNotFound) {
				// A root or child may legitimately be absent locally and
				// only recoverable from a mirror (§3.1's closure
				// invariant, clause (b)); reachability over the local
				// store simply stops there.
				continue
			}
			return nil, err
		}
		work = append(work, children...)
	}
	return seen, nil
}

// GC removes every block not reachable from roots, plus any output entries
// whose value is no longer reachable. This is the only GC policy spec.md
// mandates: manual-only (§9 Open Questions), triggered by clean(roots) (§6.3).
func (s *Store) GC(roots []id.ID) (removed int, err error) {
	reachable, err := s.ReachableFrom(roots)
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var key id.ID
			copy(key[:], k)
			if !reachable.Has(key) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		o := tx.Bucket(bucketOutputs)
		oc := o.Cursor()
		var staleOutputs [][]byte
		for k, v := oc.First(); k != nil; k, v = oc.Next() {
			var valueID id.ID
			copy(valueID[:], v)
			if !reachable.Has(valueID) {
				staleOutputs = append(staleOutputs, append([]byte(nil), k...))
			}
		}
		for _, k := range staleOutputs {
			if err := o.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

// SetOutput persists outputs[opID] = valueID (§3.3). Writing the same key
// twice is idempotent provided the value is byte-equal; a conflicting
// second write is a fatal invariant violation.
func (s *Store) SetOutput(opID, valueID id.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutputs)
		if existing := b.Get(opID[:]); existing != nil {
			if bytes.Equal(existing, valueID[:]) {
				return nil
			}
			return tgerror.New(tgerror.KindIntegrity, fmt.Sprintf(
				"block: operation %s already has output %x, refusing to overwrite with %x", opID, existing, valueID[:]))
		}
		return b.Put(opID[:], valueID[:])
	})
}

// GetOutput looks up a previously persisted operation output. If the
// operation has not been evaluated it reports found=false with a nil error.
func (s *Store) GetOutput(opID id.ID) (id.ID, bool, error) {
	var out id.ID
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOutputs).Get(opID[:])
		if data == nil {
			return nil
		}
		copy(out[:], data)
		found = true
		return nil
	})
	return out, found, err
}

// Stats reports coarse counts for metrics (tgmetrics.StoreBlocksTotal).
func (s *Store) Stats() (blocks, outputs int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		blocks = tx.Bucket(bucketBlocks).Stats().KeyN
		outputs = tx.Bucket(bucketOutputs).Stats().KeyN
		return nil
	})
	return
}
