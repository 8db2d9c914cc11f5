// Package xos provides file system helpers shared across the repository.
package xos

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/wuxler/pincer/pkg/util/xio"
)

// Create is a wrapper for fsys.Create. It will automatically make the parent
// directory with "0o700" permission mode if it does not exist.
func Create(fsys afero.Fs, path string) (afero.File, error) {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return fsys.Create(path)
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it over filename. Readers observe either the previous content or the
// new content, never a partial write.
func WriteFileAtomic(fsys afero.Fs, filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// best effort removal when the rename did not happen
		_ = fsys.Remove(tmpName) //nolint:errcheck
	}()

	if _, err := tmp.Write(data); err != nil {
		xio.CloseAndSkipError(tmp)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpName, perm); err != nil {
		return err
	}
	return fsys.Rename(tmpName, filename)
}
