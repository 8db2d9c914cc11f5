package mapping

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/smallnest/deepcopy"
	"github.com/spf13/afero"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/util/xio"
	"github.com/wuxler/pincer/pkg/util/xos"
)

// NewIndex returns an Index backed by the given mapping file. Call Load
// before use.
func NewIndex(fsys afero.Fs, filename string) *Index {
	return &Index{
		fsys:     fsys,
		filename: filename,
		tree:     Tree{},
	}
}

// Index is the durable mapping table. All writes funnel through Mutate, which
// serializes them behind one mutex and persists the whole file atomically, so
// the file on disk is always either the previous or the new consistent state.
type Index struct {
	mu       sync.RWMutex
	fsys     afero.Fs
	filename string
	tree     Tree
}

// Filename returns the path of the backing file.
func (x *Index) Filename() string {
	return x.filename
}

// Load reads the mapping file. A missing or empty file yields an empty index
// so a fresh registry starts without setup.
func (x *Index) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	file, err := x.fsys.Open(x.filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			x.tree = Tree{}
			return nil
		}
		return err
	}
	defer xio.CloseAndSkipError(file)

	tree := Tree{}
	if err := json.NewDecoder(file).Decode(&tree); err != nil && !errors.Is(err, io.EOF) {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "parse mapping file %q: %v", x.filename, err)
	}
	if tree == nil {
		tree = Tree{}
	}
	x.tree = tree
	return nil
}

// LookupManifest resolves (image, reference) to a contentRef.
func (x *Index) LookupManifest(image, reference string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.LookupManifest(image, reference)
}

// LookupBlob resolves (image, digest) to a contentRef.
func (x *Index) LookupBlob(image, dgst string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.LookupBlob(image, dgst)
}

// AddManifest records (image, reference) -> contentRef with an optional blob
// map and persists.
func (x *Index) AddManifest(image, reference, contentRef string, blobs map[string]string) error {
	return x.Mutate(func(tree Tree) error {
		return tree.AddManifest(image, reference, contentRef, blobs)
	})
}

// AddBlob records digest -> contentRef in the image's blob table and
// persists.
func (x *Index) AddBlob(image, dgst, contentRef string) error {
	return x.Mutate(func(tree Tree) error {
		return tree.SetBlob(image, dgst, contentRef)
	})
}

// Mutate runs fn against a copy of the tree and persists the result. The
// in-memory state advances only after a successful write, so a failed
// mutation or save leaves both memory and disk at the previous state.
func (x *Index) Mutate(fn func(Tree) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	clone := deepcopy.Copy(x.tree)
	if err := fn(clone); err != nil {
		return err
	}
	data, err := json.MarshalIndent(clone, "", "    ")
	if err != nil {
		return err
	}
	if err := xos.WriteFileAtomic(x.fsys, x.filename, data, 0o600); err != nil {
		return err
	}
	x.tree = clone
	return nil
}

// Snapshot returns a deep copy of the current tree for read-only inspection.
func (x *Index) Snapshot() Tree {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return deepcopy.Copy(x.tree)
}
