package script

import (
	"encoding/base64"
	"fmt"

	"github.com/dop251/goja"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
)

// Tangram values that reference a stored object cross into JS as a plain
// object carrying these two hidden fields rather than as some opaque
// host object, so scripts can freely pass them through arrays/objects and
// JSON.stringify them for debugging without goja having to special-case a
// wrapper type.
const (
	fieldKind = "__tgKind"
	fieldID   = "__tgId"
)

// valueToJS renders a stored Value as a goja Value: scalars convert to
// their native JS equivalent, everything else becomes a marker object
// carrying its kind and content id.
func valueToJS(vm *goja.Runtime, store *object.Store, v object.Value) goja.Value {
	switch v.Kind {
	case object.KindNull:
		return goja.Undefined()
	case object.KindBool:
		return vm.ToValue(v.Bool)
	case object.KindNumber:
		return vm.ToValue(v.Number)
	case object.KindString:
		return vm.ToValue(v.Str)
	case object.KindBytes:
		obj := vm.NewObject()
		_ = obj.Set(fieldKind, "bytes")
		_ = obj.Set("data", base64.StdEncoding.EncodeToString(v.Bytes))
		return obj
	case object.KindPath:
		obj := vm.NewObject()
		_ = obj.Set(fieldKind, "path")
		_ = obj.Set("path", v.Path)
		return obj
	case object.KindArray:
		return arrayToJS(vm, store, v.ID)
	case object.KindMap:
		return mapToJS(vm, store, v.ID)
	default:
		obj := vm.NewObject()
		_ = obj.Set(fieldKind, v.Kind.String())
		_ = obj.Set(fieldID, v.ID.String())
		return obj
	}
}

func arrayToJS(vm *goja.Runtime, store *object.Store, arrID id.ID) goja.Value {
	arr, err := store.LoadArray(arrID)
	if err != nil {
		panic(vm.ToValue(err.Error()))
	}
	out := make([]interface{}, len(arr.Elements))
	for i, elemID := range arr.Elements {
		v, err := store.Get(elemID)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		out[i] = valueToJS(vm, store, v)
	}
	return vm.ToValue(out)
}

func mapToJS(vm *goja.Runtime, store *object.Store, mapID id.ID) goja.Value {
	m, err := store.LoadMap(mapID)
	if err != nil {
		panic(vm.ToValue(err.Error()))
	}
	obj := vm.NewObject()
	for k, childID := range m.Entries {
		v, err := store.Get(childID)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		_ = obj.Set(k, valueToJS(vm, store, v))
	}
	return obj
}

// jsToValue converts a JS value returned from, or constructed inside, a
// script back into a storable Value. Arrays and plain objects are boxed
// into fresh Array/Map objects so every recursive piece is independently
// addressable, per the same memoisation property PutValue documents.
func jsToValue(vm *goja.Runtime, store *object.Store, v goja.Value) (object.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return object.Null(), nil
	}

	switch {
	case isMarker(v):
		return markerToValue(v)
	}

	exported := v.Export()
	switch e := exported.(type) {
	case bool:
		return object.Bool(e), nil
	case int64:
		return object.Number(float64(e)), nil
	case float64:
		return object.Number(e), nil
	case string:
		return object.String(e), nil
	}

	obj := v.ToObject(vm)
	if obj == nil {
		return object.Value{}, fmt.Errorf("script: cannot convert value %v to a stored value", v)
	}

	if arr, ok := asArray(vm, obj); ok {
		elements := make([]id.ID, len(arr))
		for i, elem := range arr {
			elemVal, err := jsToValue(vm, store, elem)
			if err != nil {
				return object.Value{}, err
			}
			elemID, err := store.PutValue(elemVal)
			if err != nil {
				return object.Value{}, err
			}
			elements[i] = elemID
		}
		return store.PutArray(&object.Array{Elements: elements})
	}

	entries := map[string]id.ID{}
	for _, key := range obj.Keys() {
		childVal, err := jsToValue(vm, store, obj.Get(key))
		if err != nil {
			return object.Value{}, err
		}
		childID, err := store.PutValue(childVal)
		if err != nil {
			return object.Value{}, err
		}
		entries[key] = childID
	}
	return store.PutMap(&object.Map{Entries: entries})
}

func isMarker(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	kind := obj.Get(fieldKind)
	return kind != nil && !goja.IsUndefined(kind)
}

func markerToValue(v goja.Value) (object.Value, error) {
	obj := v.(*goja.Object)
	kind := obj.Get(fieldKind).String()
	if kind == "path" {
		return object.Path(obj.Get("path").String()), nil
	}
	if kind == "bytes" {
		data, err := base64.StdEncoding.DecodeString(obj.Get("data").String())
		if err != nil {
			return object.Value{}, fmt.Errorf("script: decoding bytes marker: %w", err)
		}
		return object.Bytes(data), nil
	}
	k, ok := kindFromString(kind)
	if !ok {
		return object.Value{}, fmt.Errorf("script: unknown marker kind %q", kind)
	}
	idVal := obj.Get(fieldID)
	if idVal == nil || goja.IsUndefined(idVal) {
		return object.Value{}, fmt.Errorf("script: marker of kind %q has no id", kind)
	}
	parsed, err := id.Parse(idVal.String())
	if err != nil {
		return object.Value{}, fmt.Errorf("script: marker id: %w", err)
	}
	return object.Ref(k, parsed), nil
}

func kindFromString(s string) (object.Kind, bool) {
	for k := object.KindNull; k <= object.KindPackage; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// asArray reports whether obj is a JS array and, if so, its elements.
func asArray(vm *goja.Runtime, obj *goja.Object) ([]goja.Value, bool) {
	if obj.ClassName() != "Array" {
		return nil, false
	}
	lengthVal := obj.Get("length")
	if lengthVal == nil {
		return nil, false
	}
	n := int(lengthVal.ToInteger())
	out := make([]goja.Value, n)
	for i := 0; i < n; i++ {
		out[i] = obj.Get(fmt.Sprintf("%d", i))
	}
	return out, true
}
