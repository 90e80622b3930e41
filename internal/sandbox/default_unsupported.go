//go:build !linux && !darwin

package sandbox

// NewDefaultBackend reports that this platform has no sandboxing backend.
func NewDefaultBackend(containerdSocket string) (Backend, error) {
	return NewUnsupportedBackend(), nil
}
