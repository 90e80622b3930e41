//go:build !linux

package vfs

import (
	"context"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// LoopbackServer is the non-Linux Server stub. spec.md §9 notes the
// original's loopback NFSv4 mount was "partially stubbed in the source" on
// macOS; this keeps that same parity-not-a-constraint posture rather than
// pulling in a second, unexercised FUSE-equivalent dependency for a
// platform the spec does not require full support on.
type LoopbackServer struct {
	store *object.Store
}

func NewLoopbackServer(store *object.Store) *LoopbackServer {
	return &LoopbackServer{store: store}
}

var _ Server = (*LoopbackServer)(nil)

func (s *LoopbackServer) Mount(ctx context.Context, mountpoint string, root id.ID) error {
	return tgerror.New(tgerror.KindSandbox, "vfs: no filesystem mount backend for this platform")
}

func (s *LoopbackServer) Close() error { return nil }
