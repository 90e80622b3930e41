// Package lockfile implements the resolved package + dependency graph
// consumed by the script runtime's module loader (spec §4.8, supplemented
// from original_source's packages/package/src/lockfile.rs): a Lockfile
// recursively pairs a package's root directory with the lock entries
// governing every dependency import it can resolve at module-load time,
// so that resolution never touches the filesystem at runtime.
package lockfile

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
)

// Entry pairs a dependency's package root with the lock governing *its*
// dependencies in turn — the recursive step that lets a lockfile resolve
// an arbitrarily deep import graph without re-resolving anything.
type Entry struct {
	Package id.ID `yaml:"package"`
	Lock    id.ID `yaml:"lock"`
}

// Data is the serialized shape of a Lockfile: Root is the entry for the
// package the lockfile was generated for, and Entries maps a lock id to
// the dependency-specifier -> Entry table governing imports resolved
// while that lock is in scope. Lock ids repeat across the tree wherever
// two packages share an identical dependency resolution (the same
// original_source property that makes BTreeMap<LockId, ...> a dedup table
// rather than a tree walk).
type Data struct {
	Root    Entry                    `yaml:"root"`
	Entries map[string]map[string]Entry `yaml:"entries"`
}

// Lockfile is Data with its ids parsed, ready for Resolve lookups.
type Lockfile struct {
	Root    Entry
	Entries map[id.ID]map[string]Entry
}

// Encode serializes l to YAML, the teacher's convention for structured
// config/resource bodies (cmd/warren/apply.go's WarrenResource).
func Encode(l *Lockfile) ([]byte, error) {
	d := Data{
		Root:    l.Root,
		Entries: make(map[string]map[string]Entry, len(l.Entries)),
	}
	for lockID, deps := range l.Entries {
		d.Entries[lockID.String()] = deps
	}
	return yaml.Marshal(&d)
}

// Decode parses bytes previously produced by Encode.
func Decode(body []byte) (*Lockfile, error) {
	var d Data
	if err := yaml.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("lockfile: decoding: %w", err)
	}
	l := &Lockfile{
		Root:    d.Root,
		Entries: make(map[id.ID]map[string]Entry, len(d.Entries)),
	}
	for key, deps := range d.Entries {
		lockID, err := id.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("lockfile: decoding lock id %q: %w", key, err)
		}
		l.Entries[lockID] = deps
	}
	return l, nil
}

// Load fetches and decodes the Lockfile referenced by a Package's Lock id.
// A package with no dependencies has a nil Lock id and resolves to an
// empty Lockfile rather than an error.
func Load(store *object.Store, lockID id.ID) (*Lockfile, error) {
	if lockID == id.Nil {
		return &Lockfile{Entries: map[id.ID]map[string]Entry{}}, nil
	}
	v, err := store.Get(lockID)
	if err != nil {
		return nil, err
	}
	body, err := readBlob(store, v)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

func readBlob(store *object.Store, v object.Value) ([]byte, error) {
	if v.Kind != object.KindBlob {
		return nil, fmt.Errorf("lockfile: lock id does not reference a blob")
	}
	r, err := store.Blobs.Reader(v.ID)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Resolve looks up the Entry governing dependency, scoped to the lock
// currently in effect (id.Nil means the package's own root lock).
func (l *Lockfile) Resolve(lockID id.ID, dependency string) (Entry, bool) {
	if lockID == id.Nil {
		lockID = l.Root.Lock
	}
	deps, ok := l.Entries[lockID]
	if !ok {
		return Entry{}, false
	}
	e, ok := deps[dependency]
	return e, ok
}
