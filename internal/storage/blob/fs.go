// Package blob serves product files from a local directory.
package blob

import (
	"context"
	"io/fs"
	"os"

	"github.com/go-faster/errors"

	"github.com/xenking/ghostmarket/internal/domain/download"
)

var _ download.BlobStore = (*FS)(nil)

// FS opens files below a fixed root. Keys that would leave the root are
// rejected by os.Root.
type FS struct {
	root *os.Root
}

// NewFS opens dir as the storage root. The directory must exist. Keys are
// slash-separated paths relative to dir; absolute keys, ".." segments and
// symlinks that escape dir are rejected when opened.
func NewFS(dir string) (*FS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open storage root %q", dir)
	}
	return &FS{root: root}, nil
}

// Open returns the file stored under key. Missing files and directories
// yield an error matching fs.ErrNotExist.
func (s *FS) Open(_ context.Context, key string) (*download.Blob, error) {
	f, err := s.root.Open(key)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", key)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %q", key)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, &fs.PathError{Op: "open", Path: key, Err: fs.ErrNotExist}
	}
	return &download.Blob{
		Content: f,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Ping checks that the root is still readable, catching an unmounted volume
// or a directory removed while the process runs.
func (s *FS) Ping(context.Context) error {
	_, err := s.root.Stat(".")
	return err
}

// Close releases the root directory handle.
func (s *FS) Close() error {
	return s.root.Close()
}
