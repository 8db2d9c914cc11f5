package storage

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/util/xio"
	"github.com/wuxler/pincer/pkg/xlog"
)

// DefaultRemoteTimeout bounds a single remote gateway fetch.
const DefaultRemoteTimeout = 10 * time.Second

// localRefPrefix marks mapping values that address the local store. Anything
// else is a remote content id.
const localRefPrefix = "sha256:"

// RemoteFetcher retrieves pinned content from a remote gateway by content id.
type RemoteFetcher interface {
	Fetch(ctx context.Context, contentID string) (io.ReadCloser, int64, error)
}

// Resolver turns a mapping value into readable bytes. Values shaped like
// digests open from the local store. Remote content ids are fetched through
// the gateway with a bounded deadline and fall back to local content while a
// pin is still propagating. Callers never branch on the value shape
// themselves.
type Resolver struct {
	// Store is the local content store. Required.
	Store *FileStore
	// Remote fetches pinned content. Optional; when nil every remote ref
	// resolves through the local fallback only.
	Remote RemoteFetcher
	// Timeout bounds a single remote fetch. Zero means DefaultRemoteTimeout.
	Timeout time.Duration
}

// NewResolver returns a Resolver reading from store and remote.
func NewResolver(store *FileStore, remote RemoteFetcher) *Resolver {
	return &Resolver{Store: store, Remote: remote}
}

// Open resolves contentRef and opens a streaming reader with the content
// size. When the remote side fails, fallback names local content to serve
// instead; an empty fallback disables it.
func (r *Resolver) Open(ctx context.Context, kind Kind, contentRef string, fallback digest.Digest) (io.ReadCloser, int64, error) {
	if strings.HasPrefix(contentRef, localRefPrefix) {
		dgst, err := ocispec.ParseDigest(contentRef)
		if err != nil {
			return nil, 0, err
		}
		return r.Store.Reader(kind, dgst)
	}

	rc, size, err := r.openRemote(ctx, contentRef)
	if err == nil {
		return rc, size, nil
	}
	xlog.C(ctx).Warnf("remote fetch of %s %s failed, trying local fallback: %v", kind, contentRef, err)

	if fallback != "" && r.Store.Has(kind, fallback) {
		return r.Store.Reader(kind, fallback)
	}
	return nil, 0, errdefs.Newf(errdefs.ErrNotFound, "%s %s is not available remotely and has no local copy", kind, contentRef)
}

func (r *Resolver) openRemote(ctx context.Context, contentID string) (io.ReadCloser, int64, error) {
	if r.Remote == nil {
		return nil, 0, errdefs.Newf(errdefs.ErrUnavailable, "no remote gateway configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	rc, size, err := r.Remote.Fetch(ctx, contentID)
	if err != nil {
		cancel()
		return nil, 0, err
	}
	// The deadline stays armed until the caller closes the body so a stalled
	// remote stream cannot pin the request goroutine.
	closer := xio.MultiClosers(rc, xio.CloserFunc(func() error {
		cancel()
		return nil
	}))
	return xio.ReadCloser(rc, closer), size, nil
}
