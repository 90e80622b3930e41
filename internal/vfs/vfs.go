// Package vfs mounts a Directory/File/Symlink tree (component E's object
// model) as a read-only filesystem (component J, spec §4.9): "unchanged
// contract; Linux FUSE backed by go-fuse, exposing Directory/File/Symlink
// objects as a read-only fs.Node tree with content streamed from blobs".
// macOS gets a stub interface, matching spec.md §9's note that loopback
// NFS parity was never more than partially stubbed in the original either.
package vfs

import (
	"context"

	"github.com/tangramcore/tangram/internal/id"
)

// Server mounts root at mountpoint until its context is cancelled or Close
// is called.
type Server interface {
	// Mount blocks until the filesystem is unmounted or ctx is cancelled.
	Mount(ctx context.Context, mountpoint string, root id.ID) error
	// Close unmounts an in-progress Mount.
	Close() error
}
