package wal

import "errors"

// Sentinel errors returned while reading or parsing the on-disk log format.
var (
	// ErrShortFrame is returned when a buffer is too small to hold a full frame.
	ErrShortFrame = errors.New("wal: short frame")

	// ErrChecksumMismatch is returned when a frame's embedded CRC32 does
	// not match its computed checksum, indicating a corrupted frame.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrShortHeader is returned when a log file is smaller than LogFileHeaderSize.
	ErrShortHeader = errors.New("wal: short log file header")

	// ErrTruncatedFrame is returned when a log file ends partway through a frame.
	ErrTruncatedFrame = errors.New("wal: truncated frame at end of file")

	// ErrEmptyLog is returned by callers that require at least one frame
	// from a log file whose length equals exactly LogFileHeaderSize.
	ErrEmptyLog = errors.New("wal: log file has no frames")

	// ErrNotOpenForRead is returned when a stream method is called on a
	// LogFile opened write-only.
	ErrNotOpenForRead = errors.New("wal: log file not open for reading")
)
