//go:build darwin

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// SandboxExecBackend runs a Spec under macOS's sandbox-exec, the platform's
// equivalent of the Linux namespace isolation: a generated Seatbelt profile
// confines filesystem access to exactly the root/artifacts/output/home
// directories prepared for this invocation, in place of bind mounts and
// namespace unshare (spec §4.7's macOS section).
type SandboxExecBackend struct {
	log zerolog.Logger
}

func NewSandboxExecBackend() *SandboxExecBackend {
	return &SandboxExecBackend{log: tglog.WithComponent("sandbox.sandbox-exec")}
}

func (b *SandboxExecBackend) Run(ctx context.Context, spec *Spec) (Result, error) {
	profile, err := writeProfile(spec)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(profile)

	if len(spec.Args) == 0 {
		return Result{}, tgerror.New(tgerror.KindSandbox, "sandbox: task has no executable")
	}

	args := append([]string{"-f", profile}, spec.Args...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.OutputDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return Result{ExitCode: 0}, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return Result{HasSignal: true, Signal: int(status.Signal())}, nil
		}
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, fmt.Sprintf("sandbox: sandbox-exec failed: %s", stderr.String()))
}

// writeProfile renders a minimal Seatbelt profile: deny everything, then
// allow process execution plus read access under RootDir/ArtifactsDir and
// read-write access under OutputDir/HomeDir.
func writeProfile(spec *Spec) (string, error) {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(allow process-fork)\n(allow process-exec)\n(allow signal)\n(allow sysctl-read)\n")
	for _, dir := range []string{spec.RootDir, spec.ArtifactsDir} {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", dir)
	}
	for _, dir := range []string{spec.OutputDir, spec.HomeDir} {
		fmt.Fprintf(&b, "(allow file-read* file-write* (subpath %q))\n", dir)
	}
	if spec.Network {
		b.WriteString("(allow network*)\n")
	}

	f, err := os.CreateTemp("", "tangram-sandbox-*.sb")
	if err != nil {
		return "", tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to create profile file")
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return "", tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to write profile")
	}
	return f.Name(), nil
}
