package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/kivo/blobstore"
	"github.com/hupe1980/kivo/engine"
)

// BlobName is the name of the snapshot blob inside a store.
const BlobName = "kivo.snapshot"

// WriteToStore streams a snapshot to a blob store. The blob becomes
// visible atomically when the write completes.
func WriteToStore(ctx context.Context, store blobstore.BlobStore, name string, maxSeq uint64, shards [][]engine.KV, opts Options) error {
	blob, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create snapshot blob: %w", err)
	}

	if err := Write(ctx, blob, maxSeq, shards, opts); err != nil {
		_ = blob.Close()
		return err
	}
	if err := blob.Close(); err != nil {
		return fmt.Errorf("failed to finalize snapshot blob: %w", err)
	}
	return nil
}

// ReadFromStore restores a snapshot from a blob store. A missing blob
// returns blobstore.ErrNotFound; callers treat that as an empty database.
func ReadFromStore(ctx context.Context, store blobstore.BlobStore, name string, apply func(kv engine.KV) error) (uint64, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = blob.Close() }()

	reader := io.NewSectionReader(blob, 0, blob.Size())
	return Read(ctx, reader, apply)
}
