// Package snapshot serializes the full entry store to an immutable blob
// and restores it on open.
//
// A snapshot captures every live entry together with its sequence number,
// plus the highest sequence number at capture time, so recovery can
// resume sequencing and replay only newer log records. Shard sections are
// encoded in parallel and each carries its own checksum.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kivo/engine"
	"github.com/hupe1980/kivo/internal/hash"
)

// Compression selects the codec for shard sections.
type Compression uint8

const (
	// CompressionNone stores sections uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses sections with zstd.
	CompressionZstd
	// CompressionLZ4 compresses sections with lz4, trading ratio for
	// faster restores.
	CompressionLZ4
)

// ErrCorrupt marks a snapshot whose framing or checksums are invalid.
var ErrCorrupt = errors.New("snapshot: corrupt")

var (
	snapMagic         = [4]byte{'K', 'V', 'S', '0'}
	snapHeaderVersion = uint16(1)
)

// maxSectionLen bounds section sizes read from disk so a corrupt length
// field cannot trigger a huge allocation.
const maxSectionLen = 1 << 34

// Options configures snapshot encoding.
type Options struct {
	// Compression selects the section codec.
	Compression Compression

	// CompressionLevel sets the zstd level (1-22). Ignored for other
	// codecs.
	CompressionLevel int
}

// DefaultOptions returns default snapshot options.
var DefaultOptions = Options{
	Compression:      CompressionZstd,
	CompressionLevel: 3,
}

// Write serializes shards to w. maxSeq is the highest sequence number
// assigned when the shards were captured. Shard sections are encoded
// concurrently; output order is deterministic.
func Write(ctx context.Context, w io.Writer, maxSeq uint64, shards [][]engine.KV, opts Options) error {
	if opts.Compression == CompressionZstd && opts.CompressionLevel <= 0 {
		opts.CompressionLevel = DefaultOptions.CompressionLevel
	}

	var header [20]byte
	copy(header[0:4], snapMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], snapHeaderVersion)
	header[6] = byte(opts.Compression)
	// header[7] reserved
	binary.LittleEndian.PutUint64(header[8:16], maxSeq)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(shards)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	sections := make([][]byte, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for i := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			section, err := encodeSection(shards[i], opts)
			if err != nil {
				return fmt.Errorf("failed to encode shard %d: %w", i, err)
			}
			sections[i] = section
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var frame [12]byte
	for i, section := range sections {
		binary.LittleEndian.PutUint64(frame[0:8], uint64(len(section)))
		binary.LittleEndian.PutUint32(frame[8:12], hash.CRC32C(section))
		if _, err := w.Write(frame[:]); err != nil {
			return fmt.Errorf("failed to write section frame %d: %w", i, err)
		}
		if _, err := w.Write(section); err != nil {
			return fmt.Errorf("failed to write section %d: %w", i, err)
		}
	}

	return nil
}

// encodeSection serializes one shard's entries and applies the codec.
func encodeSection(kvs []engine.KV, opts Options) ([]byte, error) {
	var raw bytes.Buffer

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(kvs)))
	raw.Write(n[:])

	var lenBuf [4]byte
	var seqBuf [8]byte
	for _, kv := range kvs {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(kv.Key)))
		raw.Write(lenBuf[:])
		raw.Write(kv.Key)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(kv.Value)))
		raw.Write(lenBuf[:])
		raw.Write(kv.Value)
		binary.LittleEndian.PutUint64(seqBuf[:], kv.Seq)
		raw.Write(seqBuf[:])
	}

	switch opts.Compression {
	case CompressionNone:
		return raw.Bytes(), nil

	case CompressionZstd:
		level := zstd.EncoderLevelFromZstd(opts.CompressionLevel)
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, err
		}
		defer func() { _ = enc.Close() }()
		return enc.EncodeAll(raw.Bytes(), nil), nil

	case CompressionLZ4:
		var out bytes.Buffer
		zw := lz4.NewWriter(&out)
		if _, err := zw.Write(raw.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %d", opts.Compression)
	}
}

// Read restores a snapshot from r, invoking apply for every entry. It
// returns the highest sequence number recorded at capture time.
func Read(ctx context.Context, r io.Reader, apply func(kv engine.KV) error) (uint64, error) {
	var header [20]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if [4]byte(header[0:4]) != snapMagic {
		return 0, fmt.Errorf("%w: invalid header magic", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(header[4:6])
	if version != snapHeaderVersion {
		return 0, fmt.Errorf("unsupported snapshot version: %d", version)
	}
	compression := Compression(header[6])
	maxSeq := binary.LittleEndian.Uint64(header[8:16])
	shardCount := binary.LittleEndian.Uint32(header[16:20])

	var frame [12]byte
	for i := uint32(0); i < shardCount; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if _, err := io.ReadFull(r, frame[:]); err != nil {
			return 0, fmt.Errorf("%w: truncated section frame %d", ErrCorrupt, i)
		}
		sectionLen := binary.LittleEndian.Uint64(frame[0:8])
		wantCRC := binary.LittleEndian.Uint32(frame[8:12])
		if sectionLen > maxSectionLen {
			return 0, fmt.Errorf("%w: section %d too large", ErrCorrupt, i)
		}

		section := make([]byte, sectionLen)
		if _, err := io.ReadFull(r, section); err != nil {
			return 0, fmt.Errorf("%w: truncated section %d", ErrCorrupt, i)
		}
		if hash.CRC32C(section) != wantCRC {
			return 0, fmt.Errorf("%w: checksum mismatch in section %d", ErrCorrupt, i)
		}

		if err := decodeSection(section, compression, apply); err != nil {
			return 0, fmt.Errorf("failed to decode section %d: %w", i, err)
		}
	}

	return maxSeq, nil
}

// decodeSection reverses the codec and replays one shard's entries.
func decodeSection(section []byte, compression Compression, apply func(kv engine.KV) error) error {
	var raw []byte
	switch compression {
	case CompressionNone:
		raw = section

	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(section, nil)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCorrupt, err)
		}

	case CompressionLZ4:
		var out bytes.Buffer
		zr := lz4.NewReader(bytes.NewReader(section))
		if _, err := io.Copy(&out, zr); err != nil {
			return fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		raw = out.Bytes()

	default:
		return fmt.Errorf("unsupported compression: %d", compression)
	}

	if len(raw) < 8 {
		return fmt.Errorf("%w: short section", ErrCorrupt)
	}
	count := binary.LittleEndian.Uint64(raw[0:8])
	pos := 8

	for n := uint64(0); n < count; n++ {
		if pos+4 > len(raw) {
			return fmt.Errorf("%w: truncated entry", ErrCorrupt)
		}
		keyLen := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		if pos+keyLen+4 > len(raw) {
			return fmt.Errorf("%w: truncated key", ErrCorrupt)
		}
		key := raw[pos : pos+keyLen]
		pos += keyLen

		valLen := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		if pos+valLen+8 > len(raw) {
			return fmt.Errorf("%w: truncated value", ErrCorrupt)
		}
		value := raw[pos : pos+valLen]
		pos += valLen

		seq := binary.LittleEndian.Uint64(raw[pos : pos+8])
		pos += 8

		kv := engine.KV{
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), value...),
			Seq:   seq,
		}
		if err := apply(kv); err != nil {
			return err
		}
	}

	return nil
}
