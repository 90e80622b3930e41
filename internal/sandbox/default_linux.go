//go:build linux

package sandbox

// NewDefaultBackend picks containerd, Linux's sandboxing mechanism, as the
// Backend internal/core wires into Runner when the caller has no more
// specific preference (spec §4.7's Linux section).
func NewDefaultBackend(containerdSocket string) (Backend, error) {
	return NewContainerdBackend(containerdSocket)
}
