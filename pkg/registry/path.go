package registry

import (
	"strings"

	"github.com/wuxler/pincer/pkg/errdefs"
)

type pathKind int

const (
	kindAPIBase pathKind = iota
	kindManifest
	kindBlob
	kindUploadStart
	kindUpload
)

// target is a parsed wire path below /v2/.
type target struct {
	kind pathKind
	// name is the repository name, possibly spanning several path segments.
	name string
	// reference is the trailing variable segment: a tag or digest for
	// manifests, a digest for blobs, an upload id for upload sessions.
	reference string
}

// parsePath resolves a path below /v2/ into its target. Repository names are
// opaque and may contain slashes, so the fixed segments ("manifests", "blobs",
// "blobs/uploads") are anchored from the right and the name is the maximal
// remainder before them.
func parsePath(rest string) (target, error) {
	trimmed := strings.Trim(rest, "/")
	if trimmed == "" {
		return target{kind: kindAPIBase}, nil
	}

	segs := strings.Split(trimmed, "/")
	n := len(segs)
	switch {
	case n >= 3 && segs[n-2] == "blobs" && segs[n-1] == "uploads":
		return target{
			kind: kindUploadStart,
			name: strings.Join(segs[:n-2], "/"),
		}, nil
	case n >= 4 && segs[n-3] == "blobs" && segs[n-2] == "uploads":
		return target{
			kind:      kindUpload,
			name:      strings.Join(segs[:n-3], "/"),
			reference: segs[n-1],
		}, nil
	case n >= 3 && segs[n-2] == "manifests":
		return target{
			kind:      kindManifest,
			name:      strings.Join(segs[:n-2], "/"),
			reference: segs[n-1],
		}, nil
	case n >= 3 && segs[n-2] == "blobs":
		return target{
			kind:      kindBlob,
			name:      strings.Join(segs[:n-2], "/"),
			reference: segs[n-1],
		}, nil
	}
	return target{}, errdefs.Newf(errdefs.ErrInvalidParameter, "unrecognized registry path %q", rest)
}
