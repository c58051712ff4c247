package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/kivo/internal/fs"
)

const tmpSuffix = ".tmp"

// LocalStore implements BlobStore using the local file system. Blobs are
// written to a temp file and renamed into place on Close, so a crash
// mid-write never leaves a partially visible blob.
type LocalStore struct {
	root string
	fsys fs.FileSystem
}

// NewLocalStore creates a LocalStore rooted at the given directory. fsys
// may be nil to use the local file system.
func NewLocalStore(root string, fsys fs.FileSystem) (*LocalStore, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{root: root, fsys: fsys}, nil
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, name)
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	file, err := s.fsys.OpenFile(s.path(name), os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &localBlob{file: file, size: st.Size()}, nil
}

// Create creates a writable blob. Data goes to a temp file that replaces
// the target atomically on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	tmpPath := s.path(name) + tmpSuffix
	file, err := s.fsys.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{
		fsys:    s.fsys,
		file:    file,
		tmpPath: tmpPath,
		path:    s.path(name),
	}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	blob, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := blob.Write(data); err != nil {
		_ = blob.Close()
		return err
	}
	return blob.Close()
}

// Delete removes a blob. A missing blob is not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := s.fsys.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns all blob names matching the prefix, sorted. In-flight temp
// files are excluded.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := s.fsys.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	file fs.File
	size int64
}

func (b *localBlob) ReadAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b *localBlob) Close() error {
	return b.file.Close()
}

func (b *localBlob) Size() int64 {
	return b.size
}

type localWritableBlob struct {
	fsys    fs.FileSystem
	file    fs.File
	tmpPath string
	path    string
	closed  bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *localWritableBlob) Sync() error {
	return w.file.Sync()
}

// Close syncs the temp file and renames it into place. On any failure the
// temp file is removed and the target is left untouched.
func (w *localWritableBlob) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = w.fsys.Remove(w.tmpPath)
		return err
	}
	if err := w.file.Close(); err != nil {
		_ = w.fsys.Remove(w.tmpPath)
		return err
	}
	if err := w.fsys.Rename(w.tmpPath, w.path); err != nil {
		_ = w.fsys.Remove(w.tmpPath)
		return err
	}
	return nil
}
