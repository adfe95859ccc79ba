package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/ubersan/libsql/wal"
)

func TestReaderFramesMatchOnDiskOrder(t *testing.T) {
	dbPath := t.TempDir()
	logID := uuid.New()

	b, err := NewBuilder(dbPath, logID)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	written := []wal.Frame{frame(5, 1, 7), frame(4, 2, 0), frame(3, 3, 0)}
	if err := b.AppendFrames(context.Background(), feed(written)); err != nil {
		t.Fatalf("AppendFrames: %v", err)
	}
	name, _, _, err := b.Finish(nil, nil, nil)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := OpenReader(filepath.Join(DirPath(dbPath), name))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	ch, err := reader.Frames(context.Background())
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	var got []wal.Frame
	for item := range ch {
		if item.Err != nil {
			t.Fatalf("unexpected error: %v", item.Err)
		}
		got = append(got, item.Frame)
	}
	if len(got) != len(written) {
		t.Fatalf("got %d frames, want %d", len(got), len(written))
	}
	for i, f := range got {
		if f.Header.FrameNo != written[i].Header.FrameNo {
			t.Fatalf("frame[%d].FrameNo = %d, want %d", i, f.Header.FrameNo, written[i].Header.FrameNo)
		}
		if f.Header.SizeAfter != 0 {
			t.Fatalf("frame[%d].SizeAfter = %d, want 0 (commit bit must be cleared in snapshot)", i, f.Header.SizeAfter)
		}
	}
}
