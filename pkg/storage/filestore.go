// Package storage implements the local content-addressed store backing the
// registry and the resolver that bridges local digests and remote content ids.
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/util/xio"
	"github.com/wuxler/pincer/pkg/util/xos"
)

const (
	blobsDirName     = "blobs"
	manifestsDirName = "manifests"

	storedFileMode = os.FileMode(0o600)
)

// Kind selects which side of the local store a digest addresses.
type Kind int

const (
	// KindBlob addresses layer and config payloads.
	KindBlob Kind = iota
	// KindManifest addresses raw manifest payloads.
	KindManifest
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// FileStore persists blobs and manifests under a root directory. Content is
// addressed by digest and stored as "<root>/blobs/<hex>" and
// "<root>/manifests/<hex>". Writes are atomic and idempotent, so the presence
// of a file implies its bytes match the digest it is named by.
type FileStore struct {
	fsys afero.Fs
	root string
}

// NewFileStore returns a FileStore rooted at root, creating the directory
// layout when missing.
func NewFileStore(fsys afero.Fs, root string) (*FileStore, error) {
	for _, dir := range []string{blobsDirName, manifestsDirName} {
		if err := fsys.MkdirAll(filepath.Join(root, dir), 0o700); err != nil {
			return nil, err
		}
	}
	return &FileStore{fsys: fsys, root: root}, nil
}

// PutBlob writes content under the given digest. Writing a digest that is
// already stored is a no-op.
func (s *FileStore) PutBlob(dgst digest.Digest, content []byte) error {
	if err := dgst.Validate(); err != nil {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "invalid blob digest %q: %v", dgst, err)
	}
	path := s.path(KindBlob, dgst)
	if ok, _ := afero.Exists(s.fsys, path); ok {
		return nil
	}
	return xos.WriteFileAtomic(s.fsys, path, content, storedFileMode)
}

// SaveManifest stores the manifest payload verbatim and returns its digest.
// The bytes are never re-serialized so the returned digest always equals what
// a client computes over the wire body.
func (s *FileStore) SaveManifest(content []byte) (digest.Digest, error) {
	dgst := ocispec.DigestBytes(content)
	path := s.path(KindManifest, dgst)
	if ok, _ := afero.Exists(s.fsys, path); ok {
		return dgst, nil
	}
	if err := xos.WriteFileAtomic(s.fsys, path, content, storedFileMode); err != nil {
		return "", err
	}
	return dgst, nil
}

// Reader opens a streaming reader for stored content and reports its size.
// Missing content yields an error matching errdefs.ErrNotFound.
func (s *FileStore) Reader(kind Kind, dgst digest.Digest) (io.ReadCloser, int64, error) {
	if err := dgst.Validate(); err != nil {
		return nil, 0, errdefs.Newf(errdefs.ErrInvalidParameter, "invalid %s digest %q: %v", kind, dgst, err)
	}
	file, err := s.fsys.Open(s.path(kind, dgst))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, errdefs.Newf(errdefs.ErrNotFound, "%s %s not found", kind, dgst)
		}
		return nil, 0, err
	}
	fi, err := file.Stat()
	if err != nil {
		xio.CloseAndSkipError(file)
		return nil, 0, err
	}
	return file, fi.Size(), nil
}

// Has returns true when content with the given digest is stored.
func (s *FileStore) Has(kind Kind, dgst digest.Digest) bool {
	if dgst.Validate() != nil {
		return false
	}
	ok, _ := afero.Exists(s.fsys, s.path(kind, dgst))
	return ok
}

func (s *FileStore) path(kind Kind, dgst digest.Digest) string {
	dir := blobsDirName
	if kind == KindManifest {
		dir = manifestsDirName
	}
	return filepath.Join(s.root, dir, dgst.Encoded())
}
