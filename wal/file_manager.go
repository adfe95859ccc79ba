package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// LogFileHeaderSize is the size in bytes of a serialized LogFileHeader.
const LogFileHeaderSize = 32

// LogFileHeader identifies a log file and the frame_no it starts at.
// FrameCount is advisory (a hint written at creation time); readers
// derive the authoritative frame count from the file's length.
type LogFileHeader struct {
	LogID        [16]byte
	StartFrameNo uint64
	FrameCount   uint64
}

func (h LogFileHeader) serialize() []byte {
	buf := make([]byte, LogFileHeaderSize)
	copy(buf[0:16], h.LogID[:])
	binary.LittleEndian.PutUint64(buf[16:24], h.StartFrameNo)
	binary.LittleEndian.PutUint64(buf[24:32], h.FrameCount)
	return buf
}

func deserializeLogFileHeader(data []byte) (LogFileHeader, error) {
	if len(data) < LogFileHeaderSize {
		return LogFileHeader{}, ErrShortHeader
	}
	var h LogFileHeader
	copy(h.LogID[:], data[0:16])
	h.StartFrameNo = binary.LittleEndian.Uint64(data[16:24])
	h.FrameCount = binary.LittleEndian.Uint64(data[24:32])
	return h, nil
}

// FrameOrErr carries one frame read from a LogFile stream, or a terminal
// error. A stream's channel is closed once an error has been delivered.
type FrameOrErr struct {
	Frame Frame
	Err   error
}

// LogFile is a read-only view of a pending log file: a LogFileHeader
// followed by zero or more frames in ascending frame_no order. It is the
// external input the compactor drains and turns into a snapshot.
type LogFile struct {
	path    string
	file    *os.File
	header  LogFileHeader
	dataLen int64 // bytes of frame data following the header
}

// Open opens a log file and parses its header. A file whose length is
// exactly LogFileHeaderSize is a valid, empty pending log; callers that
// require at least one frame check FrameCount/IsEmpty themselves.
func Open(path string) (*LogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() < LogFileHeaderSize {
		f.Close()
		return nil, ErrShortHeader
	}
	hdrBuf := make([]byte, LogFileHeaderSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: reading header of %s: %w", path, err)
	}
	header, err := deserializeLogFileHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	dataLen := stat.Size() - LogFileHeaderSize
	if dataLen%FrameSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrTruncatedFrame, path, dataLen%FrameSize)
	}
	return &LogFile{path: path, file: f, header: header, dataLen: dataLen}, nil
}

// Path returns the filesystem path this LogFile was opened from.
func (lf *LogFile) Path() string { return lf.path }

// Header returns the parsed log file header.
func (lf *LogFile) Header() LogFileHeader { return lf.header }

// FrameCount returns the number of frames present, derived from file length.
func (lf *LogFile) FrameCount() uint64 { return uint64(lf.dataLen / FrameSize) }

// IsEmpty reports whether this log file carries no frames at all.
func (lf *LogFile) IsEmpty() bool { return lf.dataLen == 0 }

// Close releases the underlying file handle.
func (lf *LogFile) Close() error { return lf.file.Close() }

// ForwardFrames streams frames in ascending frame_no (on-disk) order.
func (lf *LogFile) ForwardFrames(ctx context.Context) (<-chan FrameOrErr, error) {
	out := make(chan FrameOrErr)
	count := lf.FrameCount()
	go func() {
		defer close(out)
		buf := make([]byte, FrameSize)
		for i := uint64(0); i < count; i++ {
			select {
			case <-ctx.Done():
				sendFrameErr(ctx, out, ctx.Err())
				return
			default:
			}
			off := LogFileHeaderSize + int64(i)*FrameSize
			if _, err := lf.file.ReadAt(buf, off); err != nil {
				sendFrameErr(ctx, out, fmt.Errorf("wal: reading frame %d of %s: %w", i, lf.path, err))
				return
			}
			frame, err := DeserializeFrame(buf)
			if err != nil {
				sendFrameErr(ctx, out, err)
				return
			}
			select {
			case out <- FrameOrErr{Frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ReverseFrames streams frames in descending frame_no order (the reverse
// of on-disk order), as the snapshot builder requires. Offsets are computed once from the file
// length; no separate index file is kept.
func (lf *LogFile) ReverseFrames(ctx context.Context) (<-chan FrameOrErr, error) {
	out := make(chan FrameOrErr)
	count := lf.FrameCount()
	go func() {
		defer close(out)
		buf := make([]byte, FrameSize)
		for i := count; i > 0; i-- {
			select {
			case <-ctx.Done():
				sendFrameErr(ctx, out, ctx.Err())
				return
			default:
			}
			off := LogFileHeaderSize + int64(i-1)*FrameSize
			if _, err := lf.file.ReadAt(buf, off); err != nil {
				sendFrameErr(ctx, out, fmt.Errorf("wal: reading frame %d of %s: %w", i-1, lf.path, err))
				return
			}
			frame, err := DeserializeFrame(buf)
			if err != nil {
				sendFrameErr(ctx, out, err)
				return
			}
			select {
			case out <- FrameOrErr{Frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sendFrameErr(ctx context.Context, out chan<- FrameOrErr, err error) {
	select {
	case out <- FrameOrErr{Err: err}:
	case <-ctx.Done():
	}
}

// Writer appends frames to a new log file. Used by tests and by any
// caller constructing pending logs ahead of the compactor.
type Writer struct {
	file       *os.File
	frameCount uint64
}

// CreateWriter creates a new log file at path with the given header.
func CreateWriter(path string, header LogFileHeader) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(header.serialize()); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{file: f}, nil
}

// WriteFrame appends a single frame.
func (w *Writer) WriteFrame(f Frame) error {
	if _, err := w.file.Write(f.Serialize()); err != nil {
		return err
	}
	w.frameCount++
	return nil
}

// Sync flushes the file to stable storage.
func (w *Writer) Sync() error { return w.file.Sync() }

// Close closes the underlying file.
func (w *Writer) Close() error { return w.file.Close() }
