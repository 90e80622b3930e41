package sandbox

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tangramcore/tangram/internal/checkin"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// renderer resolves Template components to sandbox-relative paths, tracking
// which artifacts it touched so the caller can check them out before the
// Backend runs.
type renderer struct {
	store        *object.Store
	artifactsDir string
	outputDir    string
	homeDir      string
	artifacts    map[id.ID]object.Value
}

func newRenderer(store *object.Store, artifactsDir, outputDir, homeDir string) *renderer {
	return &renderer{
		store:        store,
		artifactsDir: artifactsDir,
		outputDir:    outputDir,
		homeDir:      homeDir,
		artifacts:    make(map[id.ID]object.Value),
	}
}

// renderID loads i, which must decode to a String or a Template (spec
// §4.7's executable/argument/environment-value shape), and renders it to a
// guest-visible string.
func (r *renderer) renderID(i id.ID) (string, error) {
	v, err := r.store.Get(i)
	if err != nil {
		return "", err
	}
	switch v.Kind {
	case object.KindString:
		return v.Str, nil
	case object.KindTemplate:
		tmpl, err := r.store.LoadTemplate(i)
		if err != nil {
			return "", err
		}
		return tmpl.Render(r.resolveComponent)
	default:
		return "", tgerror.New(tgerror.KindDecodeError, fmt.Sprintf(
			"sandbox: task field %s is a %s, want string or template", i, v.Kind))
	}
}

// resolveComponent maps one non-literal Template component to a path: the
// well-known output/home placeholders, or an artifact's checkout path under
// r.artifactsDir, recording it for later checkout.
//
// The rendered path is always the real host-side path, not a fixed
// in-container location: the Linux backend bind-mounts each host path to
// the identical absolute path inside the container rootfs (runc creates
// missing bind-mount destinations on demand), and the macOS backend runs
// directly against the host filesystem under a Seatbelt profile scoped to
// these same paths. Mirroring host and guest paths keeps one rendering
// independent of which backend eventually executes it.
func (r *renderer) resolveComponent(v object.Value) (string, error) {
	if v.Kind == object.KindPath {
		switch v.Path {
		case "output":
			return r.outputDir, nil
		case "home":
			return r.homeDir, nil
		default:
			return v.Path, nil
		}
	}
	if isArtifactKind(v.Kind) {
		r.artifacts[v.ID] = v
		return filepath.Join(r.artifactsDir, v.ID.String()), nil
	}
	return "", tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("sandbox: template component of kind %s cannot be rendered", v.Kind))
}

// isArtifactKind reports whether v can be materialised onto disk by
// checkin.Checkout (Package is a higher-level bundle, not itself a
// filesystem artifact, so it has no place in a sandbox bind mount).
func isArtifactKind(k object.Kind) bool {
	switch k {
	case object.KindBlob, object.KindDirectory, object.KindFile, object.KindSymlink:
		return true
	default:
		return false
	}
}

// checkoutArtifacts materializes every artifact referenced by a rendered
// template under r.artifactsDir/<id>, so the Backend's bind mounts have
// something to point at.
func (r *renderer) checkoutArtifacts(ctx context.Context, checkout *checkin.Checkout) error {
	for artifactID, v := range r.artifacts {
		dest := filepath.Join(r.artifactsDir, artifactID.String())
		if err := checkout.Path(ctx, v, dest); err != nil {
			return err
		}
	}
	return nil
}
