// Package script implements the evaluator's ScriptRunner (spec §4.8,
// component I) with goja: a target's package is loaded as a
// content-addressed CommonJS-style module graph and its named export is
// invoked with the target's already-resolved args/env, producing the
// expression the evaluator tail-calls back into.
//
// goja runtimes are not safe for concurrent use, and goja's own docs call
// for pinning each one to a single OS thread for the lifetime of a call
// graph that may touch thread-local JS state (timers, Symbol caches); per
// spec §4.8 every top-level target evaluation therefore gets its own
// goroutine locked to its own OS thread via runtime.LockOSThread, and
// every syscall a script makes back into the engine runs on that same
// goroutine — there is no shared mutable VM state to protect.
package script

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// mainModuleFile is the entry-point module every package root must provide,
// the convention RunTarget and the module loader resolve a bare package
// reference against.
const mainModuleFile = "tangram.ts"

// Evaluator is the subset of *evaluator.Evaluator the `process` syscall
// recurses through. Runtime depends on the interface rather than the
// concrete type to avoid an import cycle (evaluator.Evaluator embeds a
// ScriptRunner that Runtime itself implements); wire it in after both
// sides exist with SetEvaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, exprID id.ID) (id.ID, error)
}

// Runtime is the ScriptRunner implementation: one value shared across
// every target invocation, handing each call off to its own goja VM on
// its own locked OS thread.
type Runtime struct {
	store     *object.Store
	evaluator Evaluator
	log       zerolog.Logger
}

func New(store *object.Store) *Runtime {
	return &Runtime{store: store, log: tglog.WithComponent("script")}
}

// SetEvaluator completes the construction cycle: the evaluator needs a
// ScriptRunner to be constructed, and the `process` syscall needs a
// constructed Evaluator to recurse into.
func (rt *Runtime) SetEvaluator(e Evaluator) { rt.evaluator = e }

// RunTarget implements evaluator.ScriptRunner. It loads the module at
// target.Path in target.Package (the root module when Path is empty),
// invokes the module export named target.Name with the
// target's resolved args/env, and converts the returned JS value back
// into a value id the evaluator can tail-call.
func (rt *Runtime) RunTarget(ctx context.Context, store *object.Store, target *object.Target) (id.ID, error) {
	type outcome struct {
		result id.ID
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		result, err := rt.runOnThread(ctx, target)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return id.Nil, tgerror.Wrap(tgerror.KindCancelled, ctx.Err(), "script: target evaluation cancelled")
	}
}

func (rt *Runtime) runOnThread(ctx context.Context, target *object.Target) (id.ID, error) {
	vm := goja.New()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("context canceled")
		case <-stop:
		}
	}()

	loader := newLoader(rt.store, vm)
	env := &scriptEnv{store: rt.store, evaluator: rt.evaluator, currentPkg: target.Package}
	registerSyscalls(vm, env, ctx)

	subpath := target.Path
	if subpath == "" {
		subpath = mainModuleFile
	}
	exports, err := loader.require(ctx, target.Package, subpath)
	if err != nil {
		return id.Nil, asScriptError(err)
	}

	fnVal := exports.Get(target.Name)
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return id.Nil, tgerror.New(tgerror.KindScript, fmt.Sprintf("script: module %s has no export %q", subpath, target.Name))
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return id.Nil, tgerror.New(tgerror.KindScript, fmt.Sprintf("script: export %q is not callable", target.Name))
	}

	args := make([]goja.Value, 0, len(target.Args)+1)
	for _, a := range target.Args {
		v, err := rt.store.Get(a)
		if err != nil {
			return id.Nil, err
		}
		args = append(args, valueToJS(vm, rt.store, v))
	}
	envObj := vm.NewObject()
	for k, v := range target.Env {
		vv, err := rt.store.Get(v)
		if err != nil {
			return id.Nil, err
		}
		_ = envObj.Set(k, valueToJS(vm, rt.store, vv))
	}
	args = append(args, envObj)

	result, err := fn(goja.Undefined(), args...)
	if err != nil {
		return id.Nil, asScriptError(err)
	}

	v, err := jsToValue(vm, rt.store, result)
	if err != nil {
		return id.Nil, tgerror.WithContext(err, fmt.Sprintf("converting return value of target %s", target.Name))
	}
	return rt.store.PutValue(v)
}

func asScriptError(err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		return tgerror.New(tgerror.KindScript, fmt.Sprintf("script: uncaught exception: %s", exc.String()))
	}
	if ir, ok := err.(*goja.InterruptedError); ok {
		return tgerror.Wrap(tgerror.KindCancelled, ir, "script: interrupted")
	}
	return tgerror.Wrap(tgerror.KindScript, err, "script: evaluation failed")
}
