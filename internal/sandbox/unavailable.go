package sandbox

import (
	"context"

	"github.com/tangramcore/tangram/internal/tgerror"
)

// UnavailableBackend reports that no sandbox backend could be constructed
// for this process (e.g. Linux with no reachable containerd socket),
// distinct from UnsupportedBackend's "this platform has none at all" —
// carries no build tag since internal/core needs a fallback on every
// platform, including the two that do have a real backend.
type UnavailableBackend struct {
	reason error
}

func NewUnavailableBackend(reason error) *UnavailableBackend {
	return &UnavailableBackend{reason: reason}
}

func (b *UnavailableBackend) Run(ctx context.Context, spec *Spec) (Result, error) {
	return Result{}, tgerror.Wrap(tgerror.KindSandbox, b.reason, "sandbox: no backend available")
}
