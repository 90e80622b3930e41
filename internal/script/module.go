package script

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/lockfile"
	"github.com/tangramcore/tangram/internal/object"
)

// loader resolves import specifiers against a package's locked dependency
// graph and evaluates each module exactly once per goja runtime, matching
// spec §4.8's "no filesystem access" module-resolution rule: every module
// is addressed by (package id, subpath) alone.
type loader struct {
	store *object.Store
	vm    *goja.Runtime

	// programs caches compiled goja.Program by content id, shared freely:
	// goja.Program is immutable and safe to reuse across runtimes.
	programs sync.Map // map[id.ID]*goja.Program

	// modules caches this runtime's evaluated module.exports by
	// (package id, subpath), since a module's top-level side effects must
	// run at most once per script invocation.
	modules map[moduleKey]*goja.Object
	// lockfiles caches a decoded Lockfile per package id, since the same
	// dependency may be imported from several modules within one package.
	lockfiles map[id.ID]*lockfile.Lockfile
}

type moduleKey struct {
	pkg     id.ID
	subpath string
}

func newLoader(store *object.Store, vm *goja.Runtime) *loader {
	return &loader{
		store:     store,
		vm:        vm,
		modules:   map[moduleKey]*goja.Object{},
		lockfiles: map[id.ID]*lockfile.Lockfile{},
	}
}

// require loads and, if not already evaluated on this runtime, runs the
// module at (pkg, subpath), returning its module.exports object.
func (l *loader) require(ctx context.Context, pkg id.ID, subpath string) (*goja.Object, error) {
	subpath = normalizeSubpath(subpath)
	key := moduleKey{pkg: pkg, subpath: subpath}
	if exports, ok := l.modules[key]; ok {
		return exports, nil
	}

	src, err := l.readModuleSource(pkg, subpath)
	if err != nil {
		return nil, err
	}

	program, err := l.compile(pkg, subpath, src)
	if err != nil {
		return nil, err
	}

	wrapperVal, err := l.vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	wrapper, ok := goja.AssertFunction(wrapperVal)
	if !ok {
		return nil, fmt.Errorf("script: module %s did not compile to a function", subpath)
	}

	exports := l.vm.NewObject()
	moduleObj := l.vm.NewObject()
	_ = moduleObj.Set("exports", exports)

	// Register the module before running its body so circular imports
	// observe a (possibly partial) exports object instead of recursing
	// forever, the same convention Node's CommonJS loader uses.
	l.modules[key] = exports

	requireFn := func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		childExports, err := l.resolveAndRequire(ctx, pkg, subpath, spec)
		if err != nil {
			panic(l.vm.ToValue(err.Error()))
		}
		return childExports
	}

	if _, err := wrapper(goja.Undefined(), moduleObj, exports, l.vm.ToValue(requireFn)); err != nil {
		delete(l.modules, key)
		return nil, err
	}

	finalExports := moduleObj.Get("exports")
	if finalObj, ok := finalExports.(*goja.Object); ok {
		l.modules[key] = finalObj
		return finalObj, nil
	}
	return exports, nil
}

// resolveAndRequire turns a bare import specifier used inside (pkg,
// fromSubpath) into a concrete module load: a relative specifier
// ("./foo") stays within pkg, anything else is looked up as a dependency
// name in pkg's lockfile.
func (l *loader) resolveAndRequire(ctx context.Context, pkg id.ID, fromSubpath, spec string) (*goja.Object, error) {
	if strings.HasPrefix(spec, ".") {
		rel := path.Join(path.Dir(fromSubpath), spec)
		return l.require(ctx, pkg, rel)
	}

	lf, err := l.lockfileFor(pkg)
	if err != nil {
		return nil, err
	}
	entry, ok := lf.Resolve(id.Nil, spec)
	if !ok {
		return nil, fmt.Errorf("script: %q is not a dependency of this package", spec)
	}
	return l.require(ctx, entry.Package, mainModuleFile)
}

func (l *loader) lockfileFor(pkg id.ID) (*lockfile.Lockfile, error) {
	if lf, ok := l.lockfiles[pkg]; ok {
		return lf, nil
	}
	p, err := l.store.LoadPackage(pkg)
	if err != nil {
		return nil, err
	}
	lf, err := lockfile.Load(l.store, p.Lock)
	if err != nil {
		return nil, err
	}
	l.lockfiles[pkg] = lf
	return lf, nil
}

// readModuleSource walks pkg's root Directory to the file named by
// subpath and returns its contents.
func (l *loader) readModuleSource(pkg id.ID, subpath string) (string, error) {
	p, err := l.store.LoadPackage(pkg)
	if err != nil {
		return "", err
	}
	fileID, err := l.lookupPath(p.Root, subpath)
	if err != nil {
		return "", err
	}
	file, err := l.store.LoadFile(fileID)
	if err != nil {
		return "", fmt.Errorf("script: module %s: %w", subpath, err)
	}
	r, err := l.store.Blobs.Reader(file.Contents)
	if err != nil {
		return "", err
	}
	defer r.Close()
	var b strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return b.String(), nil
}

func (l *loader) lookupPath(dirID id.ID, subpath string) (id.ID, error) {
	parts := strings.Split(subpath, "/")
	current := dirID
	for i, part := range parts {
		dir, err := l.store.LoadDirectory(current)
		if err != nil {
			return id.Nil, fmt.Errorf("script: resolving %s: %w", subpath, err)
		}
		entry, ok := dir.Entries[part]
		if !ok {
			return id.Nil, fmt.Errorf("script: module %q not found (missing %q)", subpath, part)
		}
		if i == len(parts)-1 {
			if entry.Kind != object.KindFile {
				return id.Nil, fmt.Errorf("script: module %q is not a file", subpath)
			}
			return entry.ID, nil
		}
		if entry.Kind != object.KindDirectory {
			return id.Nil, fmt.Errorf("script: resolving %s: %q is not a directory", subpath, part)
		}
		current = entry.ID
	}
	return id.Nil, fmt.Errorf("script: empty module path")
}

func (l *loader) compile(pkg id.ID, subpath, src string) (*goja.Program, error) {
	contentID := id.Hash([]byte(subpath + "\x00" + src))
	if cached, ok := l.programs.Load(contentID); ok {
		return cached.(*goja.Program), nil
	}
	wrapped := "(function(module, exports, require) {\n" + src + "\n})"
	program, err := goja.Compile(pkg.String()+":"+subpath, wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("script: compiling %s: %w", subpath, err)
	}
	l.programs.Store(contentID, program)
	return program, nil
}

func normalizeSubpath(subpath string) string {
	subpath = path.Clean(subpath)
	subpath = strings.TrimPrefix(subpath, "/")
	if subpath == "." || subpath == "" {
		return mainModuleFile
	}
	return subpath
}
