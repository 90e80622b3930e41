//go:build linux

package sandbox

import (
	"context"
	"io"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// containerdNamespace is this engine's containerd namespace, mirroring
// pkg/runtime/containerd.go's DefaultNamespace convention.
const containerdNamespace = "tangram"

// defaultSocketPath mirrors pkg/runtime/containerd.go's DefaultSocketPath.
const defaultSocketPath = "/run/containerd/containerd.sock"

// ContainerdBackend runs one Spec per ephemeral containerd container built
// directly from a prepared scratch rootfs (oci.WithRootFSPath), rather than
// the image-pull-and-snapshot flow pkg/runtime/containerd.go uses for
// long-lived service containers: every sandbox invocation is one-shot, so
// there is no image to pull or snapshot to keep around (spec §4.7).
type ContainerdBackend struct {
	client *containerd.Client
	log    zerolog.Logger
}

func NewContainerdBackend(socketPath string) (*ContainerdBackend, error) {
	if socketPath == "" {
		socketPath = defaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to connect to containerd")
	}
	return &ContainerdBackend{client: client, log: tglog.WithComponent("sandbox.containerd")}, nil
}

func (b *ContainerdBackend) Close() error {
	return b.client.Close()
}

func (b *ContainerdBackend) Run(ctx context.Context, spec *Spec) (Result, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)
	containerID := "tg-" + uuid.NewString()

	opts := []oci.SpecOpts{
		oci.WithRootFSPath(spec.RootDir),
		oci.WithProcessArgs(spec.Args...),
		oci.WithProcessCwd(spec.OutputDir),
		oci.WithEnv(spec.Env),
		oci.WithMounts(sandboxMounts(spec)),
		oci.WithHostHostsFile,
		oci.WithUIDGID(0, 0),
	}
	if spec.Network {
		opts = append(opts, oci.WithHostNamespace(specs.NetworkNamespace))
		opts = append(opts, oci.WithHostResolvconf)
	}

	container, err := b.client.NewContainer(ctx, containerID, containerd.WithNewSpec(opts...))
	if err != nil {
		return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to create container")
	}
	defer container.Delete(ctx)

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, io.Discard, io.Discard)))
	if err != nil {
		return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to create task")
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to wait on task")
	}

	if err := task.Start(ctx); err != nil {
		return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: failed to start task")
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return Result{}, tgerror.Wrap(tgerror.KindSandbox, err, "sandbox: task reported an error")
		}
		return exitStatusToResult(code), nil
	case <-ctx.Done():
		_ = task.Kill(context.Background(), syscall.SIGTERM)
		select {
		case <-statusC:
		case <-time.After(10 * time.Second):
			_ = task.Kill(context.Background(), syscall.SIGKILL)
		}
		return Result{}, tgerror.Wrap(tgerror.KindSandbox, ctx.Err(), "sandbox: task cancelled")
	}
}

// exitStatusToResult maps a raw exit code to Result, treating the
// conventional 128+signal encoding (used by shells and by runc when a
// process dies to a signal) as a signal termination, since the containerd
// task API does not separately surface the terminating signal.
func exitStatusToResult(code uint32) Result {
	if code > 128 && code < 192 {
		return Result{HasSignal: true, Signal: int(code - 128)}
	}
	return Result{ExitCode: int(code)}
}

// sandboxMounts bind-mounts each host scratch directory to the identical
// path inside the container, so a path rendered by renderer.resolveComponent
// is valid without translation regardless of which backend runs it (runc
// creates missing bind-mount destination directories inside the rootfs on
// demand).
func sandboxMounts(spec *Spec) []specs.Mount {
	mounts := []specs.Mount{
		{
			Source:      spec.ArtifactsDir,
			Destination: spec.ArtifactsDir,
			Type:        "bind",
			Options:     []string{"ro", "bind"},
		},
		{
			Source:      spec.OutputDir,
			Destination: spec.OutputDir,
			Type:        "bind",
			Options:     []string{"rw", "bind"},
		},
		{
			Source:      spec.HomeDir,
			Destination: spec.HomeDir,
			Type:        "bind",
			Options:     []string{"rw", "bind"},
		},
	}
	for _, hostPath := range spec.HostPaths {
		mounts = append(mounts, specs.Mount{
			Source:      hostPath,
			Destination: hostPath,
			Type:        "bind",
			Options:     []string{"ro", "bind"},
		})
	}
	return mounts
}
