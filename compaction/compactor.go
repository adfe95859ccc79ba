// Package compaction implements the log compactor and snapshot merger:
// the two long-lived workers that turn pending log files into snapshots
// and periodically coalesce those snapshots.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ubersan/libsql/config"
	"github.com/ubersan/libsql/faults"
	"github.com/ubersan/libsql/snapshot"
	"github.com/ubersan/libsql/wal"
)

// LogReader is the external input the compactor consumes: a log file
// that exposes its header and a reverse (newest-first) frame stream.
type LogReader interface {
	Header() wal.LogFileHeader
	ReverseFrames(ctx context.Context) (<-chan wal.FrameOrErr, error)
}

// SnapshotCallback is invoked once per freshly compacted snapshot
// (never for merger-produced ones). An error from the callback is
// fatal to the compactor worker.
type SnapshotCallback func(ctx context.Context, snapshotPath string) error

type pendingEntry struct {
	file LogReader
	path string
}

// Compactor is the single-producer serial worker that drains pending
// log files and freshly-queued ones into snapshots, in that order.
type Compactor struct {
	dbPath string
	logID  uuid.UUID
	cb     SnapshotCallback
	cfg    *config.Config
	logger *zap.Logger
	merger *Merger

	ch   chan pendingEntry
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	workErr error
}

// NewCompactor scans the pending directory, replays any logs left over
// from an interrupted run, and starts the worker goroutine.
func NewCompactor(dbPath string, logID uuid.UUID, cb SnapshotCallback, cfg *config.Config, logger *zap.Logger) (*Compactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pendingDir := filepath.Join(dbPath, cfg.PendingDir)
	if err := os.MkdirAll(pendingDir, 0755); err != nil {
		return nil, fmt.Errorf("compaction: creating %s: %w", pendingDir, err)
	}

	entries, err := os.ReadDir(pendingDir)
	if err != nil {
		return nil, fmt.Errorf("compaction: listing %s: %w", pendingDir, err)
	}

	var pending []pendingEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(pendingDir, e.Name())
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("compaction: stat %s: %w", path, err)
		}
		if info.Size() == wal.LogFileHeaderSize {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("compaction: removing empty pending log %s: %w", path, err)
			}
			logger.Info("removed empty pending log", zap.String("path", path))
			continue
		}
		lf, err := wal.Open(path)
		if err != nil {
			return nil, fmt.Errorf("compaction: opening pending log %s: %w", path, err)
		}
		pending = append(pending, pendingEntry{file: lf, path: path})
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].file.Header().StartFrameNo < pending[j].file.Header().StartFrameNo
	})

	merger, err := NewMerger(dbPath, logID, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("compaction: starting merger: %w", err)
	}

	c := &Compactor{
		dbPath: dbPath,
		logID:  logID,
		cb:     cb,
		cfg:    cfg,
		logger: logger,
		merger: merger,
		ch:     make(chan pendingEntry, cfg.CompactorChannelCapacity),
		done:   make(chan struct{}),
	}
	go c.run(pending)
	return c, nil
}

// Compact submits a log file for compaction, blocking until the worker
// accepts it. It is the backpressure point for the database's own
// log-rotation path: when compaction falls behind, rotation blocks.
// Callers must not invoke Compact concurrently with Close.
func (c *Compactor) Compact(ctx context.Context, file LogReader, path string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return faults.New(faults.KindCompactorExited, "compactor.compact", c.exitErr())
	}
	select {
	case c.ch <- pendingEntry{file: file, path: path}:
		return nil
	case <-c.done:
		return faults.New(faults.KindCompactorExited, "compactor.compact", c.exitErr())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work, waits for the worker to drain, and
// shuts down the merger. Returns the worker's terminal error, if any.
func (c *Compactor) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.ch)
	<-c.done
	if mergeErr := c.merger.Close(); mergeErr != nil && c.exitErr() == nil {
		return mergeErr
	}
	return c.exitErr()
}

func (c *Compactor) exitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workErr
}

func (c *Compactor) run(pending []pendingEntry) {
	defer close(c.done)
	ctx := context.Background()

	for _, e := range pending {
		if err := c.compactOne(ctx, e); err != nil {
			c.fail(err)
			return
		}
	}
	for e := range c.ch {
		if err := c.compactOne(ctx, e); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Compactor) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.workErr = err
	c.mu.Unlock()
	c.logger.Error("compactor worker exiting", zap.Error(err))
}

func (c *Compactor) compactOne(ctx context.Context, e pendingEntry) error {
	defer func() {
		if closer, ok := e.file.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	builder, err := snapshot.NewBuilder(c.dbPath, c.logID)
	if err != nil {
		return faults.New(faults.KindTransientIO, "compactor.new_builder", err)
	}
	frames, err := e.file.ReverseFrames(ctx)
	if err != nil {
		return faults.New(faults.KindTransientIO, "compactor.reverse_frames", err)
	}
	if err := builder.AppendFrames(ctx, frames); err != nil {
		if errors.Is(err, snapshot.ErrOrderingViolation) {
			return faults.New(faults.KindOrderingViolation, "compactor.append_frames", err)
		}
		return faults.New(faults.KindTransientIO, "compactor.append_frames", err)
	}
	name, frameCount, sizeAfter, err := builder.Finish(nil, nil, nil)
	if err != nil {
		return faults.New(faults.KindTransientIO, "compactor.finish", err)
	}

	snapshotPath := filepath.Join(snapshot.DirPath(c.dbPath), name)
	if c.cb != nil {
		if err := c.cb(ctx, snapshotPath); err != nil {
			return faults.New(faults.KindCallbackError, "compactor.callback", err)
		}
	}

	if err := c.merger.Register(ctx, name, frameCount, uint64(sizeAfter)); err != nil {
		return err
	}

	if err := os.Remove(e.path); err != nil {
		return faults.New(faults.KindTransientIO, "compactor.remove_source", err)
	}
	c.logger.Info("compacted log",
		zap.String("log", e.path),
		zap.String("snapshot", name),
		zap.Uint64("frame_count", frameCount))
	return nil
}
