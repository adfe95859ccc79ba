package snapshot

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ubersan/libsql/wal"
)

// Builder folds a stream of frames, presented in strictly decreasing
// frame_no order, into a single snapshot file: at most one frame per
// page_no (the newest seen), header describing the covered range.
type Builder struct {
	dbPath string
	logID  uuid.UUID

	tmp  *os.File
	seen map[uint32]struct{}

	startFrameNo  uint64
	endFrameNo    uint64
	sizeAfter     uint32
	frameCount    uint64
	lastSeenFrame uint64
	haveFrame     bool
}

// NewBuilder creates the snapshot directory if needed and opens a temp
// file, reserving a header-sized zero prefix.
func NewBuilder(dbPath string, logID uuid.UUID) (*Builder, error) {
	dir := DirPath(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-build-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	if _, err := tmp.Write(make([]byte, FileHeaderSize)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("snapshot: reserving header prefix: %w", err)
	}
	return &Builder{
		dbPath:        dbPath,
		logID:         logID,
		tmp:           tmp,
		seen:          make(map[uint32]struct{}),
		startFrameNo:  math.MaxUint64,
		lastSeenFrame: math.MaxUint64,
	}, nil
}

// AppendFrames consumes a reverse-ordered (newest frame_no first) frame
// stream, deduplicating by page_no and tracking the header fields.
func (b *Builder) AppendFrames(ctx context.Context, frames <-chan wal.FrameOrErr) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-frames:
			if !ok {
				return nil
			}
			if item.Err != nil {
				return fmt.Errorf("snapshot: reading frame stream: %w", item.Err)
			}
			if err := b.appendOne(item.Frame); err != nil {
				return err
			}
		}
	}
}

func (b *Builder) appendOne(f wal.Frame) error {
	frameNo := f.Header.FrameNo
	if frameNo >= b.lastSeenFrame {
		return ErrOrderingViolation
	}
	b.lastSeenFrame = frameNo
	b.haveFrame = true

	if frameNo < b.startFrameNo {
		b.startFrameNo = frameNo
	}
	if frameNo >= b.endFrameNo {
		b.endFrameNo = frameNo
		b.sizeAfter = f.Header.SizeAfter
	}

	pageNo := f.Header.PageNo
	if _, dup := b.seen[pageNo]; dup {
		return nil
	}
	b.seen[pageNo] = struct{}{}
	b.frameCount++

	cleared := f.WithClearedCommitBit()
	if _, err := b.tmp.Write(cleared.Serialize()); err != nil {
		return fmt.Errorf("snapshot: writing frame: %w", err)
	}
	return nil
}

// Finish flushes, writes the final header, fsyncs, and atomically
// renames the temp file into the snapshot directory. The rename is the
// linearization point at which the snapshot becomes visible.
//
// overrideStart and overrideEnd, when non-nil, replace the builder's
// computed start/end frame numbers before the header is written — used
// by the merger, which must derive the merged range from the input
// snapshot names rather than from frames actually written (a merged
// snapshot's range must cover the full union even if some middle frame
// numbers contributed no surviving page). Passing nil for both uses the
// frames-derived range, the ordinary compaction path.
func (b *Builder) Finish(overrideStart, overrideEnd *uint64, overrideSizeAfter *uint32) (name string, frameCount uint64, sizeAfter uint32, err error) {
	defer func() {
		b.tmp.Close()
		if err != nil {
			os.Remove(b.tmp.Name())
		}
	}()

	if !b.haveFrame {
		err = ErrEmptyBuild
		return "", 0, 0, err
	}

	start, end, sa := b.startFrameNo, b.endFrameNo, b.sizeAfter
	if overrideStart != nil {
		start = *overrideStart
	}
	if overrideEnd != nil {
		end = *overrideEnd
	}
	if overrideSizeAfter != nil {
		sa = *overrideSizeAfter
	}

	header := FileHeader{
		LogID:        b.logID,
		StartFrameNo: start,
		EndFrameNo:   end,
		FrameCount:   b.frameCount,
		SizeAfter:    sa,
	}

	if _, err = b.tmp.Seek(0, 0); err != nil {
		return "", 0, 0, fmt.Errorf("snapshot: seeking to header: %w", err)
	}
	if _, err = b.tmp.Write(header.serialize()); err != nil {
		return "", 0, 0, fmt.Errorf("snapshot: writing header: %w", err)
	}
	if err = b.tmp.Sync(); err != nil {
		return "", 0, 0, fmt.Errorf("snapshot: fsync: %w", err)
	}

	name = FormatName(b.logID, start, end)
	finalPath := filepath.Join(DirPath(b.dbPath), name)
	if err = os.Rename(b.tmp.Name(), finalPath); err != nil {
		return "", 0, 0, fmt.Errorf("snapshot: renaming into place: %w", err)
	}
	return name, b.frameCount, sa, nil
}
