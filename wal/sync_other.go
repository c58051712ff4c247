//go:build !linux

package wal

import "github.com/hupe1980/kivo/internal/fs"

func syncFile(f fs.File) error {
	return f.Sync()
}
