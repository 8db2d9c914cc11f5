package registry

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opencontainers/go-digest"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/mapping"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/util/xcache"
	"github.com/wuxler/pincer/pkg/util/xio"
	"github.com/wuxler/pincer/pkg/xlog"
)

func (s *Server) handleManifestHead(c *gin.Context, t target) {
	contentRef, ok := s.index.LookupManifest(t.name, t.reference)
	if !ok {
		s.renderError(c, errdefs.Newf(errdefs.ErrNotFound, "manifest %s/%s not found", t.name, t.reference))
		return
	}
	c.Header("Docker-Content-Digest", contentRef)
	c.Status(http.StatusOK)
}

func (s *Server) handleManifestGet(c *gin.Context, t target) {
	contentRef, ok := s.index.LookupManifest(t.name, t.reference)
	if !ok {
		s.renderError(c, errdefs.Newf(errdefs.ErrNotFound, "manifest %s/%s not found", t.name, t.reference))
		return
	}
	content, err := s.fetchManifest(c.Request.Context(), contentRef, fallbackDigest(t.reference))
	if err != nil {
		s.renderError(c, err)
		return
	}
	desc := ocispec.NewManifestDescriptor(content)
	c.Header("Docker-Content-Digest", desc.Digest.String())
	c.Data(http.StatusOK, desc.MediaType, content)
}

// handleManifestPut accepts a pushed manifest. The wire bytes are stored
// verbatim so the recorded digest always equals what the client computed;
// re-serializing the JSON would produce a different digest and break
// content-addressed identity.
func (s *Server) handleManifestPut(c *gin.Context, t target) {
	cred, ok := s.requireCredential(c)
	if !ok {
		return
	}
	content, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, errdefs.Newf(errdefs.ErrInvalidParameter, "read manifest body: %v", err))
		return
	}
	if len(content) == 0 {
		s.renderError(c, errdefs.Newf(errdefs.ErrInvalidParameter, "manifest body is empty"))
		return
	}
	layers, err := ocispec.LayerDigests(content)
	if err != nil {
		s.renderError(c, err)
		return
	}

	dgst, err := s.store.SaveManifest(content)
	if err != nil {
		s.renderError(c, err)
		return
	}

	// Layers pushed earlier under this image resolve to their current
	// contentRef; unknown layers are skipped rather than rejected.
	blobs := map[string]string{}
	for _, layer := range layers {
		if contentRef, ok := s.index.LookupBlob(t.name, layer.String()); ok {
			blobs[layer.String()] = contentRef
		}
	}
	err = s.index.Mutate(func(tree mapping.Tree) error {
		if err := tree.AddManifest(t.name, t.reference, dgst.String(), blobs); err != nil {
			return err
		}
		if t.reference != dgst.String() {
			// Digest alias so that pull-by-digest resolves the same manifest.
			return tree.AddManifest(t.name, dgst.String(), dgst.String(), blobs)
		}
		return nil
	})
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.Header("Location", "/v2/"+t.name+"/manifests/"+t.reference)
	c.Header("Docker-Content-Digest", dgst.String())
	c.Status(http.StatusCreated)

	if s.pipeline != nil {
		s.pipeline.PinManifest(cred, t.name, t.reference, dgst, content)
	}
}

// fetchManifest resolves a manifest contentRef to its payload through the
// cache. Cache keys are contentRefs, which address immutable bytes, so stale
// entries cannot occur.
func (s *Server) fetchManifest(ctx context.Context, contentRef string, fallback digest.Digest) ([]byte, error) {
	content, ok := s.manifestCache.Get(ctx, contentRef, xcache.WithLoader(func(ctx context.Context, key string) ([]byte, bool) {
		rc, _, err := s.resolver.Open(ctx, storage.KindManifest, key, fallback)
		if err != nil {
			xlog.C(ctx).Debugf("resolve manifest %s: %v", key, err)
			return nil, false
		}
		defer xio.CloseAndSkipError(rc)
		payload, err := io.ReadAll(rc)
		if err != nil {
			xlog.C(ctx).Warnf("read manifest %s: %v", key, err)
			return nil, false
		}
		return payload, true
	}))
	if !ok {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "manifest content %s is not available", contentRef)
	}
	return content, nil
}

// fallbackDigest returns the reference as a digest when it is one. Digest
// references double as the local fallback while a remote pin propagates; tag
// references carry no local coordinate.
func fallbackDigest(reference string) digest.Digest {
	dgst, err := ocispec.ParseDigest(reference)
	if err != nil {
		return ""
	}
	return dgst
}
