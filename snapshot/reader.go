package snapshot

import (
	"context"
	"fmt"
	"os"

	"github.com/ubersan/libsql/wal"
)

// Reader is a read-only view of a finalized snapshot file: its header
// followed by FrameCount frames in descending frame_no order.
type Reader struct {
	path   string
	file   *os.File
	header FileHeader
}

// OpenReader opens a finalized snapshot file and parses its header.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hdrBuf := make([]byte, FileHeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("snapshot: reading header of %s: %w", path, err)
	}
	header, err := ReadHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{path: path, file: f, header: header}, nil
}

// Header returns the parsed snapshot file header.
func (r *Reader) Header() FileHeader { return r.header }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.file.Close() }

// Frames streams the snapshot's frames in their on-disk (descending
// frame_no) order — the same order the builder wrote them in, which is
// also the order a merge must re-consume them in.
func (r *Reader) Frames(ctx context.Context) (<-chan wal.FrameOrErr, error) {
	out := make(chan wal.FrameOrErr)
	count := r.header.FrameCount
	go func() {
		defer close(out)
		buf := make([]byte, wal.FrameSize)
		for i := uint64(0); i < count; i++ {
			select {
			case <-ctx.Done():
				sendErr(ctx, out, ctx.Err())
				return
			default:
			}
			off := int64(FileHeaderSize) + int64(i)*int64(wal.FrameSize)
			if _, err := r.file.ReadAt(buf, off); err != nil {
				sendErr(ctx, out, fmt.Errorf("snapshot: reading frame %d of %s: %w", i, r.path, err))
				return
			}
			frame, err := wal.DeserializeFrame(buf)
			if err != nil {
				sendErr(ctx, out, err)
				return
			}
			select {
			case out <- wal.FrameOrErr{Frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sendErr(ctx context.Context, out chan<- wal.FrameOrErr, err error) {
	select {
	case out <- wal.FrameOrErr{Err: err}:
	case <-ctx.Done():
	}
}
