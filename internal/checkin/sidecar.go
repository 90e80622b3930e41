package checkin

import (
	"path/filepath"
	"strings"

	"github.com/tangramcore/tangram/internal/id"
)

// sidecarPath returns the reserved location Checkout writes a file's
// references side-car to, and Checkin later reads it back from: a sibling of
// path living under the metaDir reserved directory, so it never shows up as
// an ordinary Directory entry.
func sidecarPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, metaDir, base+".refs")
}

func encodeReferences(refs []id.ID) []byte {
	lines := make([]string, len(refs))
	for i, r := range refs {
		lines[i] = r.String()
	}
	return []byte(strings.Join(lines, "\n"))
}

func decodeReferences(data []byte) []id.ID {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	out := make([]id.ID, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parsed, err := id.Parse(line)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}
