package object

import (
	"fmt"
	"path"
	"strings"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// ResolvePath performs the component-wise Directory.get(path) traversal
// described in spec §4.3, rejecting any ".." parent-directory component.
func (s *Store) ResolvePath(root id.ID, p string) (Value, error) {
	for _, comp := range strings.Split(p, "/") {
		if comp == ".." {
			return Value{}, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: path %q contains an invalid component %q", p, comp))
		}
	}
	clean := path.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return Ref(KindDirectory, root), nil
	}

	cur := root
	components := strings.Split(clean, "/")
	var result Value
	for i, comp := range components {
		if comp == ".." || comp == "." || comp == "" {
			return Value{}, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: path %q contains an invalid component %q", p, comp))
		}

		dir, err := s.LoadDirectory(cur)
		if err != nil {
			return Value{}, tgerror.WithContext(err, fmt.Sprintf("resolving path component %q", comp))
		}

		entry, ok := dir.Entries[comp]
		if !ok {
			return Value{}, tgerror.NotFound("object: %q not found in directory %s", comp, cur)
		}

		result = entry
		if i < len(components)-1 {
			if entry.Kind != KindDirectory {
				return Value{}, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: %q is not a directory, cannot descend further", comp))
			}
			cur = entry.ID
		}
	}
	return result, nil
}
