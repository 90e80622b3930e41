// Package core assembles every other component into one running engine
// (SPEC_FULL §4.11): the daemon/local-API surface the distilled spec named
// as an external collaborator but never itself specified the wiring for.
// Instance exposes the spec §6.3 Evaluator API both in-process, for cmd/tg,
// and over HTTP via internal/mirror's chi router, for remote callers —
// grounded on teacher pkg/api/server.go's "server wraps a backend" shape
// and pkg/client/client.go's typed client, re-grounded onto chi/HTTP
// rather than grpc for the reasons recorded in DESIGN.md.
package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/checkin"
	"github.com/tangramcore/tangram/internal/download"
	"github.com/tangramcore/tangram/internal/evaluator"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/mirror"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/sandbox"
	"github.com/tangramcore/tangram/internal/script"
	"github.com/tangramcore/tangram/internal/tglog"
	"github.com/tangramcore/tangram/internal/tgmetrics"
)

// Instance is a fully wired engine: store, checkin/checkout, sandbox,
// script runtime, evaluator, fetcher, and the mirror server/client that
// expose and consume the remote half of spec §6.2.
type Instance struct {
	cfg Config
	log zerolog.Logger

	Blocks *block.Store
	Blobs  *blob.Store
	Store  *object.Store

	tracker  *checkin.Tracker
	checkin  *checkin.Checkin
	checkout *checkin.Checkout

	evaluator *evaluator.Evaluator
	runtime   *script.Runtime

	mirrorServer *mirror.Server
}

// Open assembles an Instance from cfg, creating the data directory layout
// (spec §6.1: blocks/, blobs/, tracker, temps/) if it does not already
// exist.
func Open(cfg Config) (*Instance, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("core: failed to create data directory %s: %w", cfg.DataDir, err)
	}
	scratchDir := filepath.Join(cfg.DataDir, "temps")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("core: failed to create scratch directory %s: %w", scratchDir, err)
	}

	tglog.Init(tglog.Config{Level: cfg.LogLevel})
	log := tglog.WithComponent("core")

	blocks, err := block.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("core: failed to open block store: %w", err)
	}
	blobs, err := blob.Open(cfg.DataDir)
	if err != nil {
		blocks.Close()
		return nil, fmt.Errorf("core: failed to open blob store: %w", err)
	}
	store := object.New(blocks, blobs)

	tracker, err := checkin.OpenTracker(cfg.DataDir)
	if err != nil {
		blocks.Close()
		return nil, fmt.Errorf("core: failed to open checkin tracker: %w", err)
	}

	backend, err := sandbox.NewDefaultBackend(cfg.ContainerdSocket)
	if err != nil {
		// A missing sandbox backend (e.g. no containerd socket on this
		// Linux host) should not prevent opening the store for
		// checkin/checkout/evaluate-without-tasks workflows — only a Task
		// actually dispatched through sandboxRunner ever needs it. Fall
		// back to a backend that reports the error at that point instead.
		log.Warn().Err(err).Msg("sandbox backend unavailable, tasks will fail until one is")
		backend = sandbox.NewUnavailableBackend(err)
	}
	sandboxRunner := sandbox.NewRunner(store, tracker, sandbox.Config{
		ScratchDir: scratchDir,
	}, backend)

	fetcher := download.New()
	scriptRuntime := script.New(store)

	eval := evaluator.New(store, scriptRuntime, sandboxRunner, fetcher)
	scriptRuntime.SetEvaluator(eval)

	inst := &Instance{
		cfg:          cfg,
		log:          log,
		Blocks:       blocks,
		Blobs:        blobs,
		Store:        store,
		tracker:      tracker,
		checkin:      checkin.New(store, tracker),
		checkout:     checkin.NewCheckout(store, tracker),
		evaluator:    eval,
		runtime:      scriptRuntime,
		mirrorServer: mirror.NewServer(store),
	}
	return inst, nil
}

// Close releases the instance's on-disk handles.
func (in *Instance) Close() error {
	if err := in.tracker.Close(); err != nil {
		return err
	}
	return in.Blocks.Close()
}

// Evaluate implements spec §6.3's evaluate(expression-id) -> value-id,
// instrumented with tgmetrics' evaluation counter/duration histogram.
func (in *Instance) Evaluate(ctx context.Context, exprID id.ID) (id.ID, error) {
	timer := tgmetrics.NewTimer()
	valueID, err := in.evaluator.Evaluate(ctx, exprID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tgmetrics.EvaluationsTotal.WithLabelValues(outcome).Inc()
	timer.ObserveDurationVec(tgmetrics.EvaluationDuration, outcome)
	return valueID, err
}

// Get implements spec §6.3's get(block-id) by returning the decoded Value,
// not bytes: scalar kinds come back inline, every other kind as its Kind
// plus id — callers that need the wire-level envelope should use
// Store.RawGet directly instead.
func (in *Instance) Get(i id.ID) (object.Value, error) {
	return in.Store.Get(i)
}

// Put implements spec §6.3's put(bytes) -> block-id by storing bytes as a
// blob, the only object variant whose identity is just "some bytes" with
// no further structure.
func (in *Instance) Put(r io.Reader) (id.ID, error) {
	v, err := in.Store.PutBlob(r)
	if err != nil {
		return id.Nil, err
	}
	return v.ID, nil
}

// Checkin implements spec §6.3's checkin(path) -> artifact-id.
func (in *Instance) Checkin(ctx context.Context, path string) (id.ID, error) {
	v, err := in.checkin.Path(ctx, path)
	if err != nil {
		return id.Nil, err
	}
	return v.ID, nil
}

// Checkout implements spec §6.3's checkout(artifact-id, path).
func (in *Instance) Checkout(ctx context.Context, artifact id.ID, path string) error {
	v, err := in.Store.Get(artifact)
	if err != nil {
		return err
	}
	return in.checkout.Path(ctx, v, path)
}

// Build evaluates exprID and checks the resulting artifact out at path,
// the composite operation SPEC_FULL §6 names as `tg build`.
func (in *Instance) Build(ctx context.Context, exprID id.ID, path string) (id.ID, error) {
	valueID, err := in.Evaluate(ctx, exprID)
	if err != nil {
		return id.Nil, err
	}
	if path == "" {
		return valueID, nil
	}
	return valueID, in.Checkout(ctx, valueID, path)
}

// Push implements spec §6.3's push(block-id, mirror): mirrorURL overrides
// cfg.MirrorURL (TANGRAM_URL) when non-empty.
func (in *Instance) Push(ctx context.Context, blockID id.ID, mirrorURL string) error {
	client, err := in.mirrorClient(mirrorURL)
	if err != nil {
		return err
	}
	return mirror.Push(ctx, in.Store, client, blockID)
}

// Pull implements spec §6.3's pull(block-id, mirror).
func (in *Instance) Pull(ctx context.Context, blockID id.ID, mirrorURL string) error {
	client, err := in.mirrorClient(mirrorURL)
	if err != nil {
		return err
	}
	return mirror.Pull(ctx, in.Store, client, blockID)
}

func (in *Instance) mirrorClient(mirrorURL string) (*mirror.Client, error) {
	if mirrorURL == "" {
		mirrorURL = in.cfg.MirrorURL
	}
	if mirrorURL == "" {
		return nil, fmt.Errorf("core: no mirror configured (set TANGRAM_URL or pass one explicitly)")
	}
	return mirror.NewClient(mirrorURL), nil
}

// Clean implements spec §6.3's clean(roots) -> (), removing every block
// and blob unreachable from roots.
func (in *Instance) Clean(roots []id.ID) (int, error) {
	removed, err := in.Blocks.GC(roots)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		tgmetrics.GCRemovedBlocksTotal.Add(float64(removed))
	}
	return removed, nil
}

// MirrorHandler exposes this instance's store as a mirror server
// (spec §6.2), for a peer's Push/Pull to reach. Mounted by cmd/tg's
// daemon-adjacent commands (or a caller embedding Instance directly)
// alongside MetricsHandler.
func (in *Instance) MirrorHandler() http.Handler {
	return in.mirrorServer.Handler()
}

// MetricsHandler exposes the process's Prometheus metrics.
func (in *Instance) MetricsHandler() http.Handler {
	return tgmetrics.Handler()
}

// RefreshStats samples Blocks.Stats into the store-size gauges.
// internal/tgmetrics's counters and histograms update inline as their
// operations complete, but the store's size is a point-in-time fact
// nothing increments — a caller (cmd/tg's daemon mode) is expected to call
// this on a ticker rather than after every mutation.
func (in *Instance) RefreshStats() error {
	blocks, outputs, err := in.Blocks.Stats()
	if err != nil {
		return err
	}
	tgmetrics.StoreBlocksTotal.Set(float64(blocks))
	tgmetrics.StoreOutputsTotal.Set(float64(outputs))
	return nil
}
