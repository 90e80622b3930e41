package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
)

// scriptEnv carries the collaborators and per-invocation state every
// syscall closure needs, kept separate from Runtime so each goroutine/VM
// gets its own (currentPackage differs per invocation).
type scriptEnv struct {
	store      *object.Store
	evaluator  Evaluator
	currentPkg id.ID
}

// registerSyscalls installs the engine's native call surface on vm's
// global object (spec §4.8): blob/directory/file/symlink/template
// construct objects, task/download/target construct (unevaluated)
// operations, include renders a template without a real sandbox, and
// process recurses into the evaluator for a sub-expression.
func registerSyscalls(vm *goja.Runtime, env *scriptEnv, ctx context.Context) {
	// must registers fn, converting any plain Go error panic raised by
	// argError into a proper JS Error so it surfaces as a catchable
	// exception in script rather than crashing the host process — goja
	// only treats a panic whose value implements Value as "throw this",
	// anything else propagates as a native Go panic.
	must := func(name string, fn func(goja.FunctionCall) goja.Value) {
		wrapped := func(call goja.FunctionCall) (result goja.Value) {
			defer func() {
				if r := recover(); r != nil {
					if err, ok := r.(error); ok {
						panic(vm.NewGoError(err))
					}
					panic(r)
				}
			}()
			return fn(call)
		}
		if err := vm.Set(name, wrapped); err != nil {
			panic(err)
		}
	}

	must("blob", func(call goja.FunctionCall) goja.Value {
		return syscallBlob(vm, env, call)
	})
	must("directory", func(call goja.FunctionCall) goja.Value {
		return syscallDirectory(vm, env, call)
	})
	must("file", func(call goja.FunctionCall) goja.Value {
		return syscallFile(vm, env, call)
	})
	must("symlink", func(call goja.FunctionCall) goja.Value {
		return syscallSymlink(vm, env, call)
	})
	must("template", func(call goja.FunctionCall) goja.Value {
		return syscallTemplate(vm, env, call)
	})
	must("task", func(call goja.FunctionCall) goja.Value {
		return syscallTask(vm, env, call)
	})
	must("download", func(call goja.FunctionCall) goja.Value {
		return syscallDownload(vm, env, call)
	})
	must("target", func(call goja.FunctionCall) goja.Value {
		return syscallTarget(vm, env, call)
	})
	must("include", func(call goja.FunctionCall) goja.Value {
		return syscallInclude(vm, env, call)
	})
	must("process", func(call goja.FunctionCall) goja.Value {
		return syscallProcess(vm, env, ctx, call)
	})
}

// argError panics with a plain Go error; registerSyscalls' wrapper turns
// it into a catchable JS exception.
func argError(format string, args ...interface{}) goja.Value {
	panic(fmt.Errorf(format, args...))
}

func syscallBlob(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	s := call.Argument(0).String()
	v, err := env.store.PutBlob(strings.NewReader(s))
	if err != nil {
		argError("blob: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallDirectory(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	obj := call.Argument(0).ToObject(vm)
	entries := map[string]object.Value{}
	for _, key := range obj.Keys() {
		v, err := jsToValue(vm, env.store, obj.Get(key))
		if err != nil {
			argError("directory: entry %q: %w", key, err)
		}
		entries[key] = v
	}
	v, err := env.store.PutDirectory(&object.Directory{Entries: entries})
	if err != nil {
		argError("directory: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallFile(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	opts := call.Argument(0).ToObject(vm)
	contentsVal, err := jsToValue(vm, env.store, opts.Get("contents"))
	if err != nil {
		argError("file: contents: %w", err)
	}
	var contentsID id.ID
	if contentsVal.Kind == object.KindBlob {
		contentsID = contentsVal.ID
	} else if contentsVal.Kind == object.KindString {
		blobVal, err := env.store.PutBlob(strings.NewReader(contentsVal.Str))
		if err != nil {
			argError("file: %w", err)
		}
		contentsID = blobVal.ID
	} else {
		argError("file: contents must be a blob or string")
	}

	f := &object.File{
		Contents:   contentsID,
		Executable: opts.Get("executable").ToBoolean(),
	}
	if refsVal := opts.Get("references"); refsVal != nil && !goja.IsUndefined(refsVal) {
		refsObj := refsVal.ToObject(vm)
		if arr, ok := asArray(vm, refsObj); ok {
			for _, r := range arr {
				rv, err := jsToValue(vm, env.store, r)
				if err != nil {
					argError("file: references: %w", err)
				}
				f.References = append(f.References, rv.ID)
			}
		}
	}

	v, err := env.store.PutFile(f)
	if err != nil {
		argError("file: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallSymlink(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	target := call.Argument(0).String()
	v, err := env.store.PutSymlink(&object.Symlink{Target: target})
	if err != nil {
		argError("symlink: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallTemplate(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	componentsObj := call.Argument(0).ToObject(vm)
	arr, ok := asArray(vm, componentsObj)
	if !ok {
		argError("template: argument must be an array of strings and artifacts")
	}
	components := make([]object.Value, len(arr))
	for i, c := range arr {
		v, err := jsToValue(vm, env.store, c)
		if err != nil {
			argError("template: component %d: %w", i, err)
		}
		components[i] = v
	}
	v, err := env.store.PutTemplate(&object.Template{Components: components})
	if err != nil {
		argError("template: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallTask(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	opts := call.Argument(0).ToObject(vm)
	task := &object.Task{
		Host:     opts.Get("host").String(),
		Network:  opts.Get("network").ToBoolean(),
		Checksum: stringOrEmpty(opts.Get("checksum")),
	}

	exeVal, err := jsToValue(vm, env.store, opts.Get("executable"))
	if err != nil {
		argError("task: executable: %w", err)
	}
	exeID, err := env.store.PutValue(exeVal)
	if err != nil {
		argError("task: %w", err)
	}
	task.Executable = exeID

	if argsVal := opts.Get("args"); argsVal != nil && !goja.IsUndefined(argsVal) {
		argsArr, ok := asArray(vm, argsVal.ToObject(vm))
		if ok {
			for _, a := range argsArr {
				av, err := jsToValue(vm, env.store, a)
				if err != nil {
					argError("task: args: %w", err)
				}
				aid, err := env.store.PutValue(av)
				if err != nil {
					argError("task: %w", err)
				}
				task.Args = append(task.Args, aid)
			}
		}
	}

	if envVal := opts.Get("env"); envVal != nil && !goja.IsUndefined(envVal) {
		envObj := envVal.ToObject(vm)
		task.Env = map[string]id.ID{}
		for _, key := range envObj.Keys() {
			ev, err := jsToValue(vm, env.store, envObj.Get(key))
			if err != nil {
				argError("task: env.%s: %w", key, err)
			}
			eid, err := env.store.PutValue(ev)
			if err != nil {
				argError("task: %w", err)
			}
			task.Env[key] = eid
		}
	}

	v, err := env.store.PutTask(task)
	if err != nil {
		argError("task: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallDownload(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	opts := call.Argument(0).ToObject(vm)
	d := &object.Download{
		URL:      opts.Get("url").String(),
		Unpack:   stringOrEmpty(opts.Get("unpack")),
		Checksum: stringOrEmpty(opts.Get("checksum")),
		Unsafe:   opts.Get("unsafe").ToBoolean(),
	}
	v, err := env.store.PutDownload(d)
	if err != nil {
		argError("download: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

func syscallTarget(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	opts := call.Argument(0).ToObject(vm)
	t := &object.Target{
		Package: env.currentPkg,
		Path:    stringOrEmpty(opts.Get("path")),
		Name:    opts.Get("name").String(),
	}
	if pkgVal := opts.Get("package"); pkgVal != nil && !goja.IsUndefined(pkgVal) {
		pv, err := jsToValue(vm, env.store, pkgVal)
		if err != nil {
			argError("target: package: %w", err)
		}
		t.Package = pv.ID
	}
	if argsVal := opts.Get("args"); argsVal != nil && !goja.IsUndefined(argsVal) {
		argsArr, ok := asArray(vm, argsVal.ToObject(vm))
		if ok {
			for _, a := range argsArr {
				av, err := jsToValue(vm, env.store, a)
				if err != nil {
					argError("target: args: %w", err)
				}
				aid, err := env.store.PutValue(av)
				if err != nil {
					argError("target: %w", err)
				}
				t.Args = append(t.Args, aid)
			}
		}
	}
	if envVal := opts.Get("env"); envVal != nil && !goja.IsUndefined(envVal) {
		envObj := envVal.ToObject(vm)
		t.Env = map[string]id.ID{}
		for _, key := range envObj.Keys() {
			ev, err := jsToValue(vm, env.store, envObj.Get(key))
			if err != nil {
				argError("target: env.%s: %w", key, err)
			}
			eid, err := env.store.PutValue(ev)
			if err != nil {
				argError("target: %w", err)
			}
			t.Env[key] = eid
		}
	}
	v, err := env.store.PutTarget(t)
	if err != nil {
		argError("target: %w", err)
	}
	return valueToJS(vm, env.store, v)
}

// syscallInclude renders a Template the way spec §4.8 calls "against a
// fake sandbox": artifact components resolve to a placeholder path keyed
// by their own content id rather than a real checkout location, so a
// script can build argv strings referencing another build's output
// without that build ever being materialized to disk.
func syscallInclude(vm *goja.Runtime, env *scriptEnv, call goja.FunctionCall) goja.Value {
	v, err := jsToValue(vm, env.store, call.Argument(0))
	if err != nil {
		argError("include: %w", err)
	}
	if v.Kind != object.KindTemplate {
		argError("include: argument must be a template")
	}
	tmpl, err := env.store.LoadTemplate(v.ID)
	if err != nil {
		argError("include: %w", err)
	}
	rendered, err := tmpl.Render(func(c object.Value) (string, error) {
		return "/tmp/tangram-fake-sandbox/" + c.ID.String(), nil
	})
	if err != nil {
		argError("include: %w", err)
	}
	return vm.ToValue(rendered)
}

// syscallProcess is the `process` syscall (the original source's
// `tg.build`): it recurses into the evaluator for a sub-expression,
// letting a script force a nested operation's result instead of merely
// returning an unevaluated reference for the evaluator to tail-call.
func syscallProcess(vm *goja.Runtime, env *scriptEnv, ctx context.Context, call goja.FunctionCall) goja.Value {
	v, err := jsToValue(vm, env.store, call.Argument(0))
	if err != nil {
		argError("process: %w", err)
	}
	exprID, err := env.store.PutValue(v)
	if err != nil {
		argError("process: %w", err)
	}
	resultID, err := env.evaluator.Evaluate(ctx, exprID)
	if err != nil {
		argError("process: %w", err)
	}
	resultVal, err := env.store.Get(resultID)
	if err != nil {
		argError("process: %w", err)
	}
	return valueToJS(vm, env.store, resultVal)
}

func stringOrEmpty(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	return v.String()
}
