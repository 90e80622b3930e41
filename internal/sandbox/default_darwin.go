//go:build darwin

package sandbox

// NewDefaultBackend picks sandbox-exec, macOS's sandboxing mechanism
// (spec §4.7's macOS section). containerdSocket is accepted for signature
// parity with the Linux build and ignored.
func NewDefaultBackend(containerdSocket string) (Backend, error) {
	return NewSandboxExecBackend(), nil
}
