// Package registry implements the OCI Distribution v2 HTTP surface. Stock
// container tooling pushes and pulls against it unchanged while the content
// lands in the local staging store and, asynchronously, in the remote pinning
// backend.
package registry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/pincer/pkg/authn"
	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/mapping"
	"github.com/wuxler/pincer/pkg/pinning"
	"github.com/wuxler/pincer/pkg/registry/uploads"
	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/util/xcache"
	"github.com/wuxler/pincer/pkg/xlog"
)

// DefaultRealm is the realm reported in authentication challenges.
const DefaultRealm = "pincer-registry"

// NewServer returns a Server wired to the given mapping index, local store,
// resolver and upload session table.
func NewServer(index *mapping.Index, store *storage.FileStore, resolver *storage.Resolver, sessions *uploads.Table, options ...Option) *Server {
	o := MakeOptions(options...)
	return &Server{
		index:         index,
		store:         store,
		resolver:      resolver,
		sessions:      sessions,
		pipeline:      o.Pipeline,
		manifestCache: o.ManifestCache,
		realm:         o.Realm,
	}
}

// Server serves the v2 wire protocol. Reads resolve through the mapping index
// and the dual-store resolver; writes land in the local store first and are
// handed to the pin pipeline after the response.
type Server struct {
	index         *mapping.Index
	store         *storage.FileStore
	resolver      *storage.Resolver
	sessions      *uploads.Table
	pipeline      *pinning.Pipeline
	manifestCache xcache.Cache[[]byte]
	realm         string
}

// Option is the optional parameter setting method.
type Option func(*Options)

// Options is the structure of the optional parameters.
type Options struct {
	// Realm is the realm announced in "WWW-Authenticate" challenges.
	Realm string
	// Pipeline schedules remote pins after successful writes. Nil disables
	// pinning and content stays local.
	Pipeline *pinning.Pipeline
	// ManifestCache caches resolved manifest payloads by contentRef. Entries
	// are content-addressed and therefore immutable.
	ManifestCache xcache.Cache[[]byte]
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		Realm:         DefaultRealm,
		ManifestCache: xcache.NewMemory[[]byte](),
	}
}

// MakeOptions returns the options with all optional parameters applied.
func MakeOptions(options ...Option) *Options {
	o := DefaultOptions()
	for _, apply := range options {
		apply(o)
	}
	return o
}

// WithRealm sets the challenge realm.
func WithRealm(realm string) Option {
	return func(o *Options) {
		if realm != "" {
			o.Realm = realm
		}
	}
}

// WithPipeline sets the async pin pipeline.
func WithPipeline(pipeline *pinning.Pipeline) Option {
	return func(o *Options) {
		o.Pipeline = pipeline
	}
}

// WithManifestCache sets the manifest payload cache. A nil cache disables
// caching and every fetch resolves through the mapping again.
func WithManifestCache(cache xcache.Cache[[]byte]) Option {
	return func(o *Options) {
		if cache == nil {
			cache = xcache.NewDiscard[[]byte]()
		}
		o.ManifestCache = cache
	}
}

// Handler builds the HTTP handler with all v2 routes registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.withRequestLogger)

	router.GET("/health", s.handleHealth)
	router.Any("/v2/*rest", s.dispatch)
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// withRequestLogger attaches a request-scoped logger so that everything down
// the call chain logs with the method and path attached.
func (s *Server) withRequestLogger(c *gin.Context) {
	ctx := xlog.WithContext(c.Request.Context(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// dispatch routes a wire path below /v2/ to its handler. The repository name
// may span any number of path segments, so routing happens here instead of in
// the router's pattern tree.
func (s *Server) dispatch(c *gin.Context) {
	t, err := parsePath(c.Param("rest"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	method := c.Request.Method
	switch t.kind {
	case kindAPIBase:
		s.handleAPIBase(c)
	case kindManifest:
		switch method {
		case http.MethodHead:
			s.handleManifestHead(c, t)
		case http.MethodGet:
			s.handleManifestGet(c, t)
		case http.MethodPut:
			s.handleManifestPut(c, t)
		default:
			s.renderMethodNotAllowed(c)
		}
	case kindBlob:
		switch method {
		case http.MethodHead, http.MethodGet:
			s.handleBlob(c, t)
		default:
			s.renderMethodNotAllowed(c)
		}
	case kindUploadStart:
		if method != http.MethodPost {
			s.renderMethodNotAllowed(c)
			return
		}
		s.handleUploadStart(c, t)
	case kindUpload:
		switch method {
		case http.MethodPatch:
			s.handleUploadPatch(c, t)
		case http.MethodPut:
			s.handleUploadPut(c, t)
		default:
			s.renderMethodNotAllowed(c)
		}
	}
}

// handleAPIBase answers the /v2/ version check. Responding 401 with a Basic
// challenge when the request carries no authorization forces docker to resend
// with stored credentials, which is how the pinning key reaches the registry.
func (s *Server) handleAPIBase(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		s.renderMethodNotAllowed(c)
		return
	}
	if c.GetHeader("Authorization") == "" {
		s.renderChallenge(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": "2.0"})
}

func (s *Server) renderChallenge(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="`+s.realm+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
}

// requireCredential enforces the write-path auth policy: pushes must carry a
// parseable credential because it doubles as the pinning key.
func (s *Server) requireCredential(c *gin.Context) (authn.Credential, bool) {
	cred, ok := authn.FromRequest(c.Request)
	if !ok {
		s.renderChallenge(c)
		return authn.Credential{}, false
	}
	return cred, true
}

func (s *Server) renderMethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
}

// renderError maps an error to its wire form. The response body carries the
// most specific line of the error chain so clients see the detail, not the
// category sentinel it is joined with.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errdefs.ErrInvalidParameter), errors.Is(err, errdefs.ErrDigestMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, errdefs.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		xlog.C(c.Request.Context()).Errorf("request failed: %v", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": lastLine(err)})
}

func lastLine(err error) string {
	lines := strings.Split(err.Error(), "\n")
	return lines[len(lines)-1]
}
