//go:build !linux && !darwin

package sandbox

import (
	"context"

	"github.com/tangramcore/tangram/internal/tgerror"
)

// UnsupportedBackend reports the platform cannot run sandboxed tasks.
type UnsupportedBackend struct{}

func NewUnsupportedBackend() *UnsupportedBackend { return &UnsupportedBackend{} }

func (b *UnsupportedBackend) Run(ctx context.Context, spec *Spec) (Result, error) {
	return Result{}, tgerror.New(tgerror.KindSandbox, "sandbox: no sandbox backend for this platform")
}
