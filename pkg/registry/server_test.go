package registry_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/mapping"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/registry"
	"github.com/wuxler/pincer/pkg/registry/uploads"
	"github.com/wuxler/pincer/pkg/storage"
)

const (
	helloDigest = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptyDigest = "sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fetcherFunc func(ctx context.Context, contentID string) (io.ReadCloser, int64, error)

func (f fetcherFunc) Fetch(ctx context.Context, contentID string) (io.ReadCloser, int64, error) {
	return f(ctx, contentID)
}

type testRegistry struct {
	handler http.Handler
	index   *mapping.Index
	store   *storage.FileStore
}

func newTestRegistry(t *testing.T) *testRegistry {
	return newTestRegistryWithRemote(t, nil)
}

func newTestRegistryWithRemote(t *testing.T, remote storage.RemoteFetcher, options ...registry.Option) *testRegistry {
	t.Helper()
	fsys := afero.NewMemMapFs()
	store, err := storage.NewFileStore(fsys, "data")
	require.NoError(t, err)
	index := mapping.NewIndex(fsys, "image_mapping.json")
	require.NoError(t, index.Load())
	sessions := uploads.NewTable(store, uploads.DefaultIdleTimeout)
	t.Cleanup(func() {
		assert.NoError(t, sessions.Close())
	})
	server := registry.NewServer(index, store, storage.NewResolver(store, remote), sessions, options...)
	return &testRegistry{
		handler: server.Handler(),
		index:   index,
		store:   store,
	}
}

// do sends a request through the handler. An empty key leaves the request
// anonymous, anything else rides in as the basic-auth password like a
// "docker login" would send it.
func (r *testRegistry) do(method, path, body, key string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.SetBasicAuth("pincer", key)
	}
	w := httptest.NewRecorder()
	r.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	got := map[string]string{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

// pushBlob drives the full chunked upload flow and returns the blob digest.
func pushBlob(t *testing.T, r *testRegistry, image, content, wantDigest string) {
	t.Helper()
	w := r.do(http.MethodPost, "/v2/"+image+"/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")
	require.NotEmpty(t, location)

	w = r.do(http.MethodPatch, location, content, "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = r.do(http.MethodPut, location+"?digest="+wantDigest, "", "0xkey")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, wantDigest, w.Header().Get("Docker-Content-Digest"))
}

func TestServer_Health(t *testing.T) {
	r := newTestRegistry(t)
	w := r.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"status": "healthy"}, decodeJSON(t, w))
}

func TestServer_APIBase(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("anonymous is challenged", func(t *testing.T) {
		w := r.do(http.MethodGet, "/v2/", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, `Basic realm="pincer-registry"`, w.Header().Get("WWW-Authenticate"))
		assert.Equal(t, map[string]string{"error": "authentication required"}, decodeJSON(t, w))
	})

	t.Run("authorized gets version", func(t *testing.T) {
		w := r.do(http.MethodGet, "/v2/", "", "0xkey")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]string{"version": "2.0"}, decodeJSON(t, w))
	})

	t.Run("post is not allowed", func(t *testing.T) {
		w := r.do(http.MethodPost, "/v2/", "", "0xkey")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestServer_BlobUploadFlow(t *testing.T) {
	r := newTestRegistry(t)
	image := "test/pincer-self-test"

	w := r.do(http.MethodPost, "/v2/"+image+"/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	id := w.Header().Get("Docker-Upload-UUID")
	require.NotEmpty(t, id)
	location := w.Header().Get("Location")
	assert.Equal(t, "/v2/"+image+"/blobs/uploads/"+id, location)
	assert.Equal(t, "0-0", w.Header().Get("Range"))

	w = r.do(http.MethodPatch, location, "hello", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, id, w.Header().Get("Docker-Upload-UUID"))
	assert.Equal(t, "0-4", w.Header().Get("Range"))

	w = r.do(http.MethodPut, location+"?digest="+helloDigest, "", "0xkey")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/v2/"+image+"/blobs/"+helloDigest, w.Header().Get("Location"))
	assert.Equal(t, helloDigest, w.Header().Get("Docker-Content-Digest"))

	contentRef, ok := r.index.LookupBlob(image, helloDigest)
	require.True(t, ok)
	assert.Equal(t, helloDigest, contentRef)

	w = r.do(http.MethodHead, "/v2/"+image+"/blobs/"+helloDigest, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, helloDigest, w.Header().Get("Docker-Content-Digest"))

	w = r.do(http.MethodGet, "/v2/"+image+"/blobs/"+helloDigest, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, helloDigest, w.Header().Get("Docker-Content-Digest"))
}

func TestServer_BlobUpload_EmptyPatch(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodPost, "/v2/app/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = r.do(http.MethodPatch, location, "", "0xkey")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]string{"error": "No data provided"}, decodeJSON(t, w))
}

func TestServer_BlobUpload_OutOfOrderChunk(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodPost, "/v2/app/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	patch := func(body, contentRange string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, location, strings.NewReader(body))
		req.SetBasicAuth("pincer", "0xkey")
		req.Header.Set("Content-Range", contentRange)
		rec := httptest.NewRecorder()
		r.handler.ServeHTTP(rec, req)
		return rec
	}

	w = patch("hello", "0-4")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "0-4", w.Header().Get("Range"))

	// A chunk restarting from zero does not continue the buffered bytes.
	w = patch("hello", "0-4")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "0-4", w.Header().Get("Range"))

	w = patch("x", "garbage")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)

	w = patch(" world", "5-10")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "0-10", w.Header().Get("Range"))
}

func TestServer_BlobUpload_DigestMismatch(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodPost, "/v2/app/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = r.do(http.MethodPatch, location, "hello", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)

	wrong := "sha256:" + strings.Repeat("0", 64)
	w = r.do(http.MethodPut, location+"?digest="+wrong, "", "0xkey")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, ok := r.index.LookupBlob("app", wrong)
	assert.False(t, ok)

	// The session survives a failed finalize so the client may retry.
	w = r.do(http.MethodPut, location+"?digest="+helloDigest, "", "0xkey")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestServer_BlobUpload_Unauthenticated(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodPost, "/v2/app/blobs/uploads/", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="pincer-registry"`, w.Header().Get("WWW-Authenticate"))

	w = r.do(http.MethodPatch, "/v2/app/blobs/uploads/some-id", "data", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_BlobUpload_UnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	w := r.do(http.MethodPatch, "/v2/app/blobs/uploads/not-a-session", "data", "0xkey")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_BlobUpload_MissingDigestQuery(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodPost, "/v2/app/blobs/uploads/", "", "0xkey")
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = r.do(http.MethodPut, location, "hello", "0xkey")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Blob_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	w := r.do(http.MethodGet, "/v2/app/blobs/"+helloDigest, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = r.do(http.MethodGet, "/v2/app/blobs/not-a-digest", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func manifestBody() string {
	return `{"schemaVersion":2,"mediaType":"` + ocispec.MediaTypeDockerV2S2Manifest + `",` +
		`"config":{"mediaType":"` + ocispec.MediaTypeDockerV2S2ImageConfig + `","size":2,"digest":"` + emptyDigest + `"},` +
		`"layers":[{"mediaType":"` + ocispec.MediaTypeDockerV2S2ImageLayerGzip + `","size":5,"digest":"` + helloDigest + `"}]}`
}

func TestServer_ManifestPushPull(t *testing.T) {
	r := newTestRegistry(t)
	image := "test/pincer-self-test"
	pushBlob(t, r, image, "hello", helloDigest)

	body := manifestBody()
	wantDigest := ocispec.DigestBytes([]byte(body)).String()

	w := r.do(http.MethodPut, "/v2/"+image+"/manifests/latest", body, "0xkey")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/v2/"+image+"/manifests/latest", w.Header().Get("Location"))
	assert.Equal(t, wantDigest, w.Header().Get("Docker-Content-Digest"))

	w = r.do(http.MethodHead, "/v2/"+image+"/manifests/latest", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, wantDigest, w.Header().Get("Docker-Content-Digest"))

	// Pull by tag returns the pushed bytes verbatim.
	w = r.do(http.MethodGet, "/v2/"+image+"/manifests/latest", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
	assert.Equal(t, ocispec.MediaTypeDockerV2S2Manifest, w.Header().Get("Content-Type"))
	assert.Equal(t, wantDigest, w.Header().Get("Docker-Content-Digest"))

	// Pull by digest resolves through the alias written alongside the tag.
	w = r.do(http.MethodGet, "/v2/"+image+"/manifests/"+wantDigest, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())

	// The manifest entry carries the layer mapping known at push time.
	contentRef, ok := r.index.LookupBlob(image, helloDigest)
	require.True(t, ok)
	assert.Equal(t, helloDigest, contentRef)

	w = r.do(http.MethodGet, "/v2/"+image+"/manifests/other", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ManifestPut_Invalid(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("requires auth", func(t *testing.T) {
		w := r.do(http.MethodPut, "/v2/app/manifests/latest", manifestBody(), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := r.do(http.MethodPut, "/v2/app/manifests/latest", "", "0xkey")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := r.do(http.MethodPut, "/v2/app/manifests/latest", "{not json", "0xkey")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_ManifestGet_CacheBehavior(t *testing.T) {
	body := manifestBody()
	newCountingRegistry := func(t *testing.T, options ...registry.Option) (*testRegistry, *int) {
		fetches := 0
		remote := fetcherFunc(func(_ context.Context, contentID string) (io.ReadCloser, int64, error) {
			require.Equal(t, "bafymanifest", contentID)
			fetches++
			return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
		})
		r := newTestRegistryWithRemote(t, remote, options...)
		require.NoError(t, r.index.AddManifest("app", "latest", "bafymanifest", nil))
		return r, &fetches
	}

	t.Run("memory cache fetches once", func(t *testing.T) {
		r, fetches := newCountingRegistry(t)
		for range 2 {
			w := r.do(http.MethodGet, "/v2/app/manifests/latest", "", "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, body, w.Body.String())
		}
		assert.Equal(t, 1, *fetches)
	})

	t.Run("nil cache resolves every pull", func(t *testing.T) {
		r, fetches := newCountingRegistry(t, registry.WithManifestCache(nil))
		for range 2 {
			w := r.do(http.MethodGet, "/v2/app/manifests/latest", "", "")
			require.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, 2, *fetches)
	})
}

func TestServer_Blob_RemoteContent(t *testing.T) {
	remote := fetcherFunc(func(_ context.Context, contentID string) (io.ReadCloser, int64, error) {
		require.Equal(t, "bafytestcid", contentID)
		return io.NopCloser(strings.NewReader("hello")), 5, nil
	})
	r := newTestRegistryWithRemote(t, remote)
	require.NoError(t, r.index.AddBlob("app", helloDigest, "bafytestcid"))

	w := r.do(http.MethodGet, "/v2/app/blobs/"+helloDigest, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, helloDigest, w.Header().Get("Docker-Content-Digest"))
}

func TestServer_Blob_RemoteFallsBackToLocal(t *testing.T) {
	remote := fetcherFunc(func(_ context.Context, _ string) (io.ReadCloser, int64, error) {
		return nil, 0, io.ErrUnexpectedEOF
	})
	r := newTestRegistryWithRemote(t, remote)

	// Local copy staged, mapping already rewritten to the remote id.
	require.NoError(t, r.store.PutBlob(ocispec.DigestBytes([]byte("hello")), []byte("hello")))
	require.NoError(t, r.index.AddBlob("app", helloDigest, "bafytestcid"))

	w := r.do(http.MethodGet, "/v2/app/blobs/"+helloDigest, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestServer_UnrecognizedPath(t *testing.T) {
	r := newTestRegistry(t)
	w := r.do(http.MethodGet, "/v2/just/a/name", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	r := newTestRegistry(t)
	w := r.do(http.MethodDelete, "/v2/app/manifests/latest", "", "0xkey")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
