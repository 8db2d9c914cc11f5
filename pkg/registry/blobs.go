package registry

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/util/xhttp"
	"github.com/wuxler/pincer/pkg/util/xio"
)

// handleBlob serves HEAD and GET for a blob by digest. Both resolve through
// the mapping so that the local-or-remote policy stays in one place.
func (s *Server) handleBlob(c *gin.Context, t target) {
	dgst, err := ocispec.ParseDigest(t.reference)
	if err != nil {
		s.renderError(c, err)
		return
	}
	contentRef, ok := s.index.LookupBlob(t.name, dgst.String())
	if !ok {
		s.renderError(c, errdefs.Newf(errdefs.ErrNotFound, "blob %s/%s not found", t.name, dgst))
		return
	}
	if c.Request.Method == http.MethodHead {
		c.Header("Docker-Content-Digest", dgst.String())
		c.Status(http.StatusOK)
		return
	}

	rc, size, err := s.resolver.Open(c.Request.Context(), storage.KindBlob, contentRef, dgst)
	if err != nil {
		s.renderError(c, err)
		return
	}
	defer xio.CloseAndSkipError(rc)
	c.DataFromReader(http.StatusOK, size, ocispec.DefaultMediaType, rc, map[string]string{
		"Docker-Content-Digest": dgst.String(),
	})
}

func (s *Server) handleUploadStart(c *gin.Context, t target) {
	if _, ok := s.requireCredential(c); !ok {
		return
	}
	sess := s.sessions.Start(t.name)
	c.Header("Location", uploadLocation(t.name, sess.ID()))
	c.Header("Docker-Upload-UUID", sess.ID())
	c.Header("Range", "0-0")
	c.Status(http.StatusAccepted)
}

func (s *Server) handleUploadPatch(c *gin.Context, t target) {
	if _, ok := s.requireCredential(c); !ok {
		return
	}
	// Chunked clients declare offsets in Content-Range. A chunk that does
	// not continue the buffered bytes answers 416 with the current range.
	if hdr := c.GetHeader("Content-Range"); hdr != "" {
		sess, err := s.sessions.Get(t.reference)
		if err != nil {
			s.renderError(c, err)
			return
		}
		start, _, ok := xhttp.ParseRange(hdr)
		if !ok || start != sess.Size() {
			c.Header("Range", xhttp.RangeString(0, sess.Size()))
			c.Status(http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}
	chunk, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, errdefs.Newf(errdefs.ErrInvalidParameter, "read chunk: %v", err))
		return
	}
	if len(chunk) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}
	size, err := s.sessions.Append(t.reference, chunk)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Location", uploadLocation(t.name, t.reference))
	c.Header("Docker-Upload-UUID", t.reference)
	c.Header("Range", xhttp.RangeString(0, size))
	c.Status(http.StatusAccepted)
}

// handleUploadPut finalizes a chunked upload. The response acknowledges local
// durability only; the remote pin runs detached afterwards and the mapping is
// rewritten when it lands.
func (s *Server) handleUploadPut(c *gin.Context, t target) {
	cred, ok := s.requireCredential(c)
	if !ok {
		return
	}
	declared := c.Query("digest")
	if declared == "" {
		s.renderError(c, errdefs.Newf(errdefs.ErrInvalidParameter, "digest query parameter is required"))
		return
	}
	expected, err := ocispec.ParseDigest(declared)
	if err != nil {
		s.renderError(c, err)
		return
	}

	// Clients may send the trailing chunk with the finalizing PUT.
	chunk, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, errdefs.Newf(errdefs.ErrInvalidParameter, "read chunk: %v", err))
		return
	}
	if len(chunk) > 0 {
		if _, err := s.sessions.Append(t.reference, chunk); err != nil {
			s.renderError(c, err)
			return
		}
	}

	actual, content, err := s.sessions.Finalize(t.reference, expected)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.index.AddBlob(t.name, actual.String(), actual.String()); err != nil {
		s.renderError(c, err)
		return
	}

	c.Header("Location", "/v2/"+t.name+"/blobs/"+actual.String())
	c.Header("Docker-Content-Digest", actual.String())
	c.Status(http.StatusCreated)

	if s.pipeline != nil {
		s.pipeline.PinBlob(cred, t.name, actual, content)
	}
}

func uploadLocation(name, id string) string {
	return "/v2/" + name + "/blobs/uploads/" + id
}
