package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestLog(t *testing.T, path string, header LogFileHeader, frames []Frame) {
	t.Helper()
	w, err := CreateWriter(path, header)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func collectFrames(t *testing.T, ch <-chan FrameOrErr) []Frame {
	t.Helper()
	var out []Frame
	for item := range ch {
		if item.Err != nil {
			t.Fatalf("unexpected stream error: %v", item.Err)
		}
		out = append(out, item.Frame)
	}
	return out
}

func TestLogFileEmptyPendingLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.log")
	writeTestLog(t, path, LogFileHeader{StartFrameNo: 1}, nil)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != LogFileHeaderSize {
		t.Fatalf("size = %d, want %d", info.Size(), LogFileHeaderSize)
	}

	lf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer lf.Close()
	if !lf.IsEmpty() {
		t.Fatal("IsEmpty() = false, want true")
	}
	if lf.FrameCount() != 0 {
		t.Fatalf("FrameCount() = %d, want 0", lf.FrameCount())
	}
}

func TestLogFileForwardAndReverseFrames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.log")

	frames := []Frame{
		makeFrame(1, 10, 0, 0x01),
		makeFrame(2, 11, 0, 0x02),
		makeFrame(3, 10, 4, 0x03),
	}
	writeTestLog(t, path, LogFileHeader{StartFrameNo: 1, FrameCount: 3}, frames)

	lf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer lf.Close()

	if lf.FrameCount() != 3 {
		t.Fatalf("FrameCount() = %d, want 3", lf.FrameCount())
	}
	if lf.Header().StartFrameNo != 1 {
		t.Fatalf("StartFrameNo = %d, want 1", lf.Header().StartFrameNo)
	}

	fwdCh, err := lf.ForwardFrames(context.Background())
	if err != nil {
		t.Fatalf("ForwardFrames: %v", err)
	}
	fwd := collectFrames(t, fwdCh)
	if len(fwd) != 3 {
		t.Fatalf("forward: got %d frames, want 3", len(fwd))
	}
	for i, f := range fwd {
		if !f.Equal(frames[i]) {
			t.Fatalf("forward[%d] mismatch", i)
		}
	}

	revCh, err := lf.ReverseFrames(context.Background())
	if err != nil {
		t.Fatalf("ReverseFrames: %v", err)
	}
	rev := collectFrames(t, revCh)
	if len(rev) != 3 {
		t.Fatalf("reverse: got %d frames, want 3", len(rev))
	}
	for i, f := range rev {
		if !f.Equal(frames[len(frames)-1-i]) {
			t.Fatalf("reverse[%d] mismatch", i)
		}
	}
}

func TestOpenTruncatedFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.log")
	writeTestLog(t, path, LogFileHeader{StartFrameNo: 1}, []Frame{makeFrame(1, 1, 0, 0x01)})

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	_, err = Open(path)
	if err == nil {
		t.Fatal("Open succeeded on truncated file, want error")
	}
}
