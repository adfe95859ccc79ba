// Package wal defines the on-disk frame and log-file format consumed by the
// compaction pipeline. A frame is the unit of both logs and snapshots: a
// fixed-size header followed by a fixed-size page payload.
package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// PageSize is the fixed page payload size carried by every frame.
const PageSize = 4096

// FrameHeaderSize is the size in bytes of a serialized FrameHeader.
const FrameHeaderSize = 20

// checksumOffset is the byte offset of the checksum field within a
// serialized frame; the checksum covers every other byte of the frame.
const checksumOffset = 16

// FrameSize is the size in bytes of a serialized Frame (header + page).
const FrameSize = FrameHeaderSize + PageSize

// FrameHeader is the fixed-size header of a single page-level WAL record.
type FrameHeader struct {
	FrameNo   uint64 // monotonically increasing sequence number for this log_id
	PageNo    uint32 // database page this frame modifies
	SizeAfter uint32 // database size in pages after applying this frame; 0 = not a commit boundary
}

// Frame is one page-level modification: a header plus the post-image page.
type Frame struct {
	Header FrameHeader
	Page   [PageSize]byte
}

// Serialize writes the frame to its little-endian, naturally-aligned wire
// format: header, a CRC32 checksum over everything else, then page bytes.
func (f *Frame) Serialize() []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.Header.FrameNo)
	binary.LittleEndian.PutUint32(buf[8:12], f.Header.PageNo)
	binary.LittleEndian.PutUint32(buf[12:16], f.Header.SizeAfter)
	copy(buf[FrameHeaderSize:], f.Page[:])
	binary.LittleEndian.PutUint32(buf[checksumOffset:checksumOffset+4], frameChecksum(buf))
	return buf
}

// DeserializeFrame parses a frame from its wire format, verifying the
// embedded checksum.
func DeserializeFrame(data []byte) (Frame, error) {
	if len(data) < FrameSize {
		return Frame{}, ErrShortFrame
	}
	want := binary.LittleEndian.Uint32(data[checksumOffset : checksumOffset+4])
	if got := frameChecksum(data[:FrameSize]); got != want {
		return Frame{}, ErrChecksumMismatch
	}
	var f Frame
	f.Header.FrameNo = binary.LittleEndian.Uint64(data[0:8])
	f.Header.PageNo = binary.LittleEndian.Uint32(data[8:12])
	f.Header.SizeAfter = binary.LittleEndian.Uint32(data[12:16])
	copy(f.Page[:], data[FrameHeaderSize:FrameSize])
	return f, nil
}

// frameChecksum computes the CRC32 (IEEE polynomial) over every byte of a
// serialized frame except the checksum field itself.
func frameChecksum(buf []byte) uint32 {
	data := make([]byte, 0, len(buf)-4)
	data = append(data, buf[:checksumOffset]...)
	data = append(data, buf[checksumOffset+4:]...)
	return crc32.ChecksumIEEE(data)
}

// WithClearedCommitBit returns a copy of the frame with SizeAfter zeroed,
// as required when a frame is written into a snapshot: commit-boundary
// decisions are deferred to the replica reader.
func (f Frame) WithClearedCommitBit() Frame {
	f.Header.SizeAfter = 0
	return f
}

// Equal reports whether two frames are byte-identical. Used by tests.
func (f Frame) Equal(other Frame) bool {
	return f.Header == other.Header && bytes.Equal(f.Page[:], other.Page[:])
}
