package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ubersan/libsql/config"
	"github.com/ubersan/libsql/snapshot"
	"github.com/ubersan/libsql/wal"
)

func writePendingLog(t *testing.T, dir string, name string, start uint64, frames []wal.Frame) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := wal.CreateWriter(path, wal.LogFileHeader{StartFrameNo: start, FrameCount: uint64(len(frames))})
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func testFrame(frameNo uint64, pageNo uint32, sizeAfter uint32) wal.Frame {
	var f wal.Frame
	f.Header.FrameNo = frameNo
	f.Header.PageNo = pageNo
	f.Header.SizeAfter = sizeAfter
	return f
}

func TestCompactorProcessesPendingLogsInStartFrameOrder(t *testing.T) {
	dbPath := t.TempDir()
	cfg := config.Default()
	pendingDir := filepath.Join(dbPath, cfg.PendingDir)
	if err := os.MkdirAll(pendingDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	// Written to disk out of order: the compactor must replay them by
	// ascending start_frame_no regardless of directory iteration order.
	writePendingLog(t, pendingDir, "b.log", 10, []wal.Frame{testFrame(11, 1, 2)})
	writePendingLog(t, pendingDir, "a.log", 1, []wal.Frame{testFrame(2, 1, 2)})

	var mu sync.Mutex
	var seenOrder []string
	cb := func(ctx context.Context, path string) error {
		mu.Lock()
		defer mu.Unlock()
		seenOrder = append(seenOrder, path)
		return nil
	}

	compactor, err := NewCompactor(dbPath, uuid.New(), cb, cfg, nil)
	if err != nil {
		t.Fatalf("NewCompactor: %v", err)
	}
	if err := compactor.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seenOrder) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(seenOrder))
	}
	_, start0, _, ok0 := snapshot.ParseName(filepath.Base(seenOrder[0]))
	_, start1, _, ok1 := snapshot.ParseName(filepath.Base(seenOrder[1]))
	if !ok0 || !ok1 {
		t.Fatalf("could not parse snapshot names: %v", seenOrder)
	}
	if start0 != 2 || start1 != 11 {
		t.Fatalf("processed out of order: got starts %d, %d, want 2, 11", start0, start1)
	}
}

func TestCompactorRemovesEmptyPendingLogOnStartup(t *testing.T) {
	dbPath := t.TempDir()
	cfg := config.Default()
	pendingDir := filepath.Join(dbPath, cfg.PendingDir)
	if err := os.MkdirAll(pendingDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	emptyPath := writePendingLog(t, pendingDir, "empty.log", 1, nil)

	compactor, err := NewCompactor(dbPath, uuid.New(), nil, cfg, nil)
	if err != nil {
		t.Fatalf("NewCompactor: %v", err)
	}
	if err := compactor.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(emptyPath); !os.IsNotExist(err) {
		t.Fatalf("empty pending log still present, want removed")
	}
}

func TestCompactorCompactDedupsPages(t *testing.T) {
	dbPath := t.TempDir()
	cfg := config.Default()

	var snapshotPath string
	cb := func(ctx context.Context, path string) error {
		snapshotPath = path
		return nil
	}

	compactor, err := NewCompactor(dbPath, uuid.New(), cb, cfg, nil)
	if err != nil {
		t.Fatalf("NewCompactor: %v", err)
	}

	logPath := writePendingLog(t, filepath.Join(dbPath, cfg.PendingDir), "submitted.log", 1, []wal.Frame{
		testFrame(1, 1, 0), // superseded by frame 3, which rewrites page 1
		testFrame(2, 2, 0),
		testFrame(3, 1, 5),
	})
	lf, err := wal.Open(logPath)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}

	if err := compactor.Compact(context.Background(), lf, logPath); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := compactor.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if snapshotPath == "" {
		t.Fatal("callback never invoked")
	}
	reader, err := snapshot.OpenReader(snapshotPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	if reader.Header().FrameCount != 2 {
		t.Fatalf("FrameCount = %d, want 2 (pages 1 and 2)", reader.Header().FrameCount)
	}
	if reader.Header().SizeAfter != 5 {
		t.Fatalf("SizeAfter = %d, want 5", reader.Header().SizeAfter)
	}

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("source log still present after successful compaction")
	}
}

func TestCompactorCallbackErrorIsFatal(t *testing.T) {
	dbPath := t.TempDir()
	cfg := config.Default()
	cbErr := context.Canceled
	cb := func(ctx context.Context, path string) error { return cbErr }

	compactor, err := NewCompactor(dbPath, uuid.New(), cb, cfg, nil)
	if err != nil {
		t.Fatalf("NewCompactor: %v", err)
	}

	logPath := writePendingLog(t, filepath.Join(dbPath, cfg.PendingDir), "bad.log", 1, []wal.Frame{testFrame(1, 1, 1)})
	lf, err := wal.Open(logPath)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	if err := compactor.Compact(context.Background(), lf, logPath); err != nil {
		t.Fatalf("Compact (submit): %v", err)
	}

	err = compactor.Close()
	if err == nil {
		t.Fatal("Close() = nil, want propagated callback error")
	}
}
