// Package evaluator implements the memoised, concurrent graph reducer that
// turns an expression id into a value id (spec §4.6): component G. It is
// the hub everything else in the engine is dispatched through — arrays and
// maps recurse here for their children, targets hand off to the script
// runtime and re-enter on the expression it synthesises, tasks go to the
// sandbox runner, downloads go to the fetcher.
package evaluator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// ScriptRunner invokes a Target's export and returns the expression id it
// synthesises, to be re-evaluated by the same Evaluator (tail-call sharing
// memoisation), per spec §4.8.
type ScriptRunner interface {
	RunTarget(ctx context.Context, store *object.Store, target *object.Target) (id.ID, error)
}

// SandboxRunner executes a Task to completion and returns the value id of
// its result, per spec §4.7. A nonzero exit or signal termination surfaces
// as a tgerror.KindTaskFailed error.
type SandboxRunner interface {
	RunTask(ctx context.Context, store *object.Store, task *object.Task) (id.ID, error)
}

// Downloader fetches and optionally unpacks a Download, per spec §4.6's
// dispatch rule.
type Downloader interface {
	RunDownload(ctx context.Context, store *object.Store, download *object.Download) (id.ID, error)
}

// Evaluator implements evaluate(expression-id) -> value-id with per-id
// single-flight deduplication (spec §4.6). The zero value is not usable;
// construct with New.
type Evaluator struct {
	store      *object.Store
	script     ScriptRunner
	sandbox    SandboxRunner
	downloader Downloader
	inflight   singleflight.Group
	log        zerolog.Logger
}

func New(store *object.Store, script ScriptRunner, sandbox SandboxRunner, downloader Downloader) *Evaluator {
	return &Evaluator{
		store:      store,
		script:     script,
		sandbox:    sandbox,
		downloader: downloader,
		log:        tglog.WithComponent("evaluator"),
	}
}

// Evaluate runs the algorithm in spec §4.6: check the memoisation table,
// single-flight concurrent callers for the same expression, decode and
// dispatch by variant, then persist the result. A failed operation is
// never cached as success — the outputs table is only written on the
// success path.
func (e *Evaluator) Evaluate(ctx context.Context, exprID id.ID) (id.ID, error) {
	if v, found, err := e.store.Blocks.GetOutput(exprID); err != nil {
		return id.Nil, err
	} else if found {
		return v, nil
	}

	result, err, _ := e.inflight.Do(exprID.String(), func() (interface{}, error) {
		// Re-check under single-flight: another goroutine's call may have
		// completed and persisted an output while we waited to register.
		if v, found, err := e.store.Blocks.GetOutput(exprID); err != nil {
			return nil, err
		} else if found {
			return v, nil
		}

		value, err := e.store.Get(exprID)
		if err != nil {
			return nil, tgerror.WithContext(err, fmt.Sprintf("decoding expression %s", exprID))
		}

		resultID, err := e.dispatch(ctx, exprID, value)
		if err != nil {
			return nil, err
		}

		if err := e.store.Blocks.SetOutput(exprID, resultID); err != nil {
			return nil, tgerror.WithContext(err, fmt.Sprintf("persisting output for %s", exprID))
		}
		return resultID, nil
	})
	if err != nil {
		return id.Nil, err
	}
	return result.(id.ID), nil
}

func (e *Evaluator) dispatch(ctx context.Context, exprID id.ID, v object.Value) (id.ID, error) {
	switch v.Kind {
	case object.KindArray:
		return e.evaluateArray(ctx, exprID)
	case object.KindMap:
		return e.evaluateMap(ctx, exprID)
	case object.KindTarget:
		return e.evaluateTarget(ctx, exprID)
	case object.KindTask:
		return e.evaluateTask(ctx, exprID)
	case object.KindDownload:
		return e.evaluateDownload(ctx, exprID)
	default:
		// Primitives (null|bool|number|string|bytes|path|blob|directory|
		// file|symlink|template) and Package: return the own id unchanged.
		return exprID, nil
	}
}

func (e *Evaluator) evaluateArray(ctx context.Context, exprID id.ID) (id.ID, error) {
	arr, err := e.store.LoadArray(exprID)
	if err != nil {
		return id.Nil, err
	}

	results := make([]id.ID, len(arr.Elements))
	g, gctx := errgroup.WithContext(ctx)
	for i, elemID := range arr.Elements {
		i, elemID := i, elemID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, elemID)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return id.Nil, err
	}

	v, err := e.store.PutArray(&object.Array{Elements: results})
	if err != nil {
		return id.Nil, err
	}
	return v.ID, nil
}

func (e *Evaluator) evaluateMap(ctx context.Context, exprID id.ID) (id.ID, error) {
	m, err := e.store.LoadMap(exprID)
	if err != nil {
		return id.Nil, err
	}

	type kv struct {
		key   string
		value id.ID
	}
	results := make(chan kv, len(m.Entries))
	g, gctx := errgroup.WithContext(ctx)
	for key, childID := range m.Entries {
		key, childID := key, childID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, childID)
			if err != nil {
				return err
			}
			results <- kv{key: key, value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return id.Nil, err
	}
	close(results)

	entries := make(map[string]id.ID, len(m.Entries))
	for r := range results {
		entries[r.key] = r.value
	}

	v, err := e.store.PutMap(&object.Map{Entries: entries})
	if err != nil {
		return id.Nil, err
	}
	return v.ID, nil
}

// evaluateTarget resolves a Target's Args/Env expression-ids (object.Target's
// doc comment: "each independently evaluated and memoised before the script
// runtime is invoked" — the same child-resolution rule evaluateTask follows),
// then hands the target to the script runtime, which synthesises a new
// expression; that expression is re-evaluated through the same Evaluate
// call, sharing the memoisation table (spec §4.6: "tail-call, sharing
// memoisation").
func (e *Evaluator) evaluateTarget(ctx context.Context, exprID id.ID) (id.ID, error) {
	target, err := e.store.LoadTarget(exprID)
	if err != nil {
		return id.Nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	args := make([]id.ID, len(target.Args))
	for i, argID := range target.Args {
		i, argID := i, argID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, argID)
			if err != nil {
				return err
			}
			args[i] = v
			return nil
		})
	}

	type kv struct {
		key   string
		value id.ID
	}
	envResults := make(chan kv, len(target.Env))
	for key, valID := range target.Env {
		key, valID := key, valID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, valID)
			if err != nil {
				return err
			}
			envResults <- kv{key: key, value: v}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return id.Nil, tgerror.WithContext(err, fmt.Sprintf("resolving target %s", target.Name))
	}
	close(envResults)

	env := make(map[string]id.ID, len(target.Env))
	for r := range envResults {
		env[r.key] = r.value
	}

	resolved := &object.Target{
		Package: target.Package,
		Path:    target.Path,
		Name:    target.Name,
		Args:    args,
		Env:     env,
	}

	synthesized, err := e.script.RunTarget(ctx, e.store, resolved)
	if err != nil {
		return id.Nil, tgerror.WithContext(err, fmt.Sprintf("running target %s", target.Name))
	}

	e.log.Debug().Str("target", target.Name).Str("synthesized", synthesized.String()).Msg("target synthesised expression")

	return e.Evaluate(ctx, synthesized)
}

// evaluateTask resolves a Task's Executable/Args/Env expression-ids before
// handing it to the sandbox runner: unlike Target (which recurses into the
// evaluator itself via a script syscall), the sandbox runner has no hook
// back into G, so every child must already be a value-id by the time it
// gets there — the same "recursively evaluate children in parallel" rule
// spec §4.6 states for Array/Map.
func (e *Evaluator) evaluateTask(ctx context.Context, exprID id.ID) (id.ID, error) {
	task, err := e.store.LoadTask(exprID)
	if err != nil {
		return id.Nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	var executable id.ID
	g.Go(func() error {
		v, err := e.Evaluate(gctx, task.Executable)
		if err != nil {
			return err
		}
		executable = v
		return nil
	})

	args := make([]id.ID, len(task.Args))
	for i, argID := range task.Args {
		i, argID := i, argID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, argID)
			if err != nil {
				return err
			}
			args[i] = v
			return nil
		})
	}

	type kv struct {
		key   string
		value id.ID
	}
	envResults := make(chan kv, len(task.Env))
	for key, valID := range task.Env {
		key, valID := key, valID
		g.Go(func() error {
			v, err := e.Evaluate(gctx, valID)
			if err != nil {
				return err
			}
			envResults <- kv{key: key, value: v}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return id.Nil, tgerror.WithContext(err, fmt.Sprintf("resolving task %s", exprID))
	}
	close(envResults)

	env := make(map[string]id.ID, len(task.Env))
	for r := range envResults {
		env[r.key] = r.value
	}

	resolved := &object.Task{
		Host:       task.Host,
		Executable: executable,
		Args:       args,
		Env:        env,
		Network:    task.Network,
		Checksum:   task.Checksum,
	}

	return e.sandbox.RunTask(ctx, e.store, resolved)
}

func (e *Evaluator) evaluateDownload(ctx context.Context, exprID id.ID) (id.ID, error) {
	dl, err := e.store.LoadDownload(exprID)
	if err != nil {
		return id.Nil, err
	}
	return e.downloader.RunDownload(ctx, e.store, dl)
}
