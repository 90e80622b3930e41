// Package sandbox implements the evaluator's SandboxRunner: executing a Task
// in an isolated environment (spec §4.7). The OS-specific isolation
// mechanism (containerd-driven Linux namespaces, macOS sandbox-exec) lives
// behind the Backend interface so this file stays platform-neutral: template
// rendering, artifact closure checkout, and checksum verification.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/checkin"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// Spec is the platform-neutral description of one task invocation, built by
// Runner.RunTask and consumed by a Backend.
type Spec struct {
	RootDir      string // fresh empty directory the backend chroots/roots into
	ArtifactsDir string // host-side directory holding the checked-out artifact closure, bind-mounted read-only at this same path (there is no fixed /.tangram location)
	OutputDir    string // host-side writable directory, bind-mounted read-write at this same path
	HomeDir      string // host-side writable scratch home, bind-mounted read-write at this same path
	HostPaths    []string
	Args         []string
	Env          []string
	Network      bool
}

// Result is a Backend's report of how the child process ended.
type Result struct {
	ExitCode  int
	Signal    int
	HasSignal bool
}

// Backend performs the OS-specific isolation and process execution for one
// Spec (spec §4.7's Linux/macOS sandboxing sections).
type Backend interface {
	Run(ctx context.Context, spec *Spec) (Result, error)
}

// Runner implements evaluator.SandboxRunner.
type Runner struct {
	store     *object.Store
	checkout  *checkin.Checkout
	checkin   *checkin.Checkin
	tracker   *checkin.Tracker
	scratch   string
	hostPaths []string
	backend   Backend
	log       zerolog.Logger
}

// Config configures a Runner.
type Config struct {
	// ScratchDir is the data directory's temps/ area (spec §6.1).
	ScratchDir string
	// HostPaths lists host filesystem paths bind-mounted read-only into
	// every sandbox (e.g. a base toolchain), per spec §4.7.
	HostPaths []string
}

func NewRunner(store *object.Store, tracker *checkin.Tracker, cfg Config, backend Backend) *Runner {
	return &Runner{
		store:     store,
		checkout:  checkin.NewCheckout(store, tracker),
		checkin:   checkin.New(store, tracker),
		tracker:   tracker,
		scratch:   cfg.ScratchDir,
		hostPaths: cfg.HostPaths,
		backend:   backend,
		log:       tglog.WithComponent("sandbox"),
	}
}

// RunTask renders a Task's executable/args/env, checks out its artifact
// closure, runs it through the platform Backend, checks the output
// directory back in as an artifact, verifies the checksum if one was
// declared, and maps the exit status to a tgerror.KindTaskFailed error on
// nonzero exit or signal termination (spec §4.7).
func (r *Runner) RunTask(ctx context.Context, store *object.Store, task *object.Task) (id.ID, error) {
	invocationDir := filepath.Join(r.scratch, uuid.NewString())
	spec := &Spec{
		RootDir:      filepath.Join(invocationDir, "root"),
		ArtifactsDir: filepath.Join(invocationDir, "artifacts"),
		OutputDir:    filepath.Join(invocationDir, "output"),
		HomeDir:      filepath.Join(invocationDir, "home"),
		HostPaths:    r.hostPaths,
		Network:      task.Network,
	}
	for _, dir := range []string{spec.RootDir, spec.ArtifactsDir, spec.OutputDir, spec.HomeDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return id.Nil, tgerror.Wrap(tgerror.KindSandbox, err, fmt.Sprintf("sandbox: failed to create %s", dir))
		}
	}
	defer os.RemoveAll(invocationDir)

	rend := newRenderer(store, spec.ArtifactsDir, spec.OutputDir, spec.HomeDir)

	executable, err := rend.renderID(task.Executable)
	if err != nil {
		return id.Nil, tgerror.WithContext(err, "rendering task executable")
	}
	args := make([]string, 0, len(task.Args)+1)
	args = append(args, executable)
	for _, a := range task.Args {
		s, err := rend.renderID(a)
		if err != nil {
			return id.Nil, tgerror.WithContext(err, "rendering task argument")
		}
		args = append(args, s)
	}
	spec.Args = args

	env := make([]string, 0, len(task.Env))
	for k, v := range task.Env {
		s, err := rend.renderID(v)
		if err != nil {
			return id.Nil, tgerror.WithContext(err, fmt.Sprintf("rendering env %s", k))
		}
		env = append(env, k+"="+s)
	}
	spec.Env = env

	if err := rend.checkoutArtifacts(ctx, r.checkout); err != nil {
		return id.Nil, tgerror.WithContext(err, "checking out task artifact closure")
	}

	result, err := r.backend.Run(ctx, spec)
	if err != nil {
		return id.Nil, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: backend execution failed")
	}
	if result.HasSignal {
		return id.Nil, tgerror.TaskFailedSignal(result.Signal)
	}
	if result.ExitCode != 0 {
		return id.Nil, tgerror.TaskFailedCode(result.ExitCode)
	}

	outputVal, err := r.checkin.Path(ctx, spec.OutputDir)
	if err != nil {
		return id.Nil, tgerror.WithContext(err, "checking in task output")
	}

	if task.Checksum != "" {
		if err := verifyArtifactChecksum(task.Checksum, outputVal.ID); err != nil {
			return id.Nil, err
		}
	}

	return outputVal.ID, nil
}

// verifyArtifactChecksum compares a declared "blake3:<hex>" checksum
// against the output artifact's own content id. Since every artifact in
// this store is already addressed by a BLAKE3 hash of its canonical
// encoding, a Task's declared output checksum is naturally expressed in the
// same hash space rather than requiring a second hashing pass over
// re-serialized bytes.
func verifyArtifactChecksum(declared string, got id.ID) error {
	const prefix = "blake3:"
	if len(declared) <= len(prefix) || declared[:len(prefix)] != prefix {
		return tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("sandbox: malformed checksum %q, want \"blake3:hex\"", declared))
	}
	want, err := id.Parse(declared[len(prefix):])
	if err != nil {
		return tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("sandbox: invalid checksum hex in %q: %v", declared, err))
	}
	if want != got {
		return tgerror.New(tgerror.KindChecksum, fmt.Sprintf("sandbox: output checksum mismatch, wanted %s got %s", want, got))
	}
	return nil
}
