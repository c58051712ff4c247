//go:build linux

package wal

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/kivo/internal/fs"
)

// syncFile forces file contents to stable storage. On Linux fdatasync
// skips the metadata flush; record appends never change file metadata the
// recovery path depends on. Non-OS files (test fakes) fall back to Sync.
func syncFile(f fs.File) error {
	if of, ok := f.(*os.File); ok {
		return unix.Fdatasync(int(of.Fd()))
	}
	return f.Sync()
}
