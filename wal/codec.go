package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/kivo/internal/hash"
)

// ErrCorruptRecord marks a record whose checksum or framing is invalid.
// Replay treats it as the end of the usable log (torn tail after a crash).
var ErrCorruptRecord = errors.New("wal: corrupt record")

// maxFrameLen bounds key and value lengths read from disk so a corrupt
// length field cannot trigger a huge allocation.
const maxFrameLen = 1 << 30

// encodeRecord writes a record in binary format.
// Format: [Type:1][Seq:8][KeyLen:4][Key][ValLen:4][Value][CRC32C:4]
// The checksum covers every preceding byte of the frame.
func (w *WAL) encodeRecord(rec *Record) error {
	frame := w.scratch[:0]
	frame = append(frame, byte(rec.Type))
	frame = binary.LittleEndian.AppendUint64(frame, rec.Seq)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(rec.Key)))
	frame = append(frame, rec.Key...)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(rec.Value)))
	frame = append(frame, rec.Value...)
	frame = binary.LittleEndian.AppendUint32(frame, hash.CRC32C(frame))
	w.scratch = frame[:0]

	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}
	return nil
}

// decodeRecord reads one record and verifies its checksum. It returns
// io.EOF at a clean end of stream and ErrCorruptRecord on a bad frame.
func decodeRecord(reader io.Reader, rec *Record) error {
	frame := make([]byte, 0, 64)

	var fixed [13]byte
	if _, err := io.ReadFull(reader, fixed[:1]); err != nil {
		return err // io.EOF at a record boundary is a clean end
	}
	if _, err := io.ReadFull(reader, fixed[1:]); err != nil {
		return ErrCorruptRecord
	}
	frame = append(frame, fixed[:]...)

	rec.Type = RecordType(fixed[0])
	rec.Seq = binary.LittleEndian.Uint64(fixed[1:9])
	keyLen := binary.LittleEndian.Uint32(fixed[9:13])
	if keyLen > maxFrameLen {
		return ErrCorruptRecord
	}

	rec.Key = nil
	if keyLen > 0 {
		rec.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(reader, rec.Key); err != nil {
			return ErrCorruptRecord
		}
		frame = append(frame, rec.Key...)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
		return ErrCorruptRecord
	}
	frame = append(frame, lenBuf[:]...)
	valLen := binary.LittleEndian.Uint32(lenBuf[:])
	if valLen > maxFrameLen {
		return ErrCorruptRecord
	}

	rec.Value = nil
	if valLen > 0 {
		rec.Value = make([]byte, valLen)
		if _, err := io.ReadFull(reader, rec.Value); err != nil {
			return ErrCorruptRecord
		}
		frame = append(frame, rec.Value...)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(reader, crcBuf[:]); err != nil {
		return ErrCorruptRecord
	}
	if binary.LittleEndian.Uint32(crcBuf[:]) != hash.CRC32C(frame) {
		return ErrCorruptRecord
	}

	return nil
}

func (w *WAL) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.compressed {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}
