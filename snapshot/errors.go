package snapshot

import "errors"

var (
	// ErrShortHeader is returned when a snapshot file is smaller than FileHeaderSize.
	ErrShortHeader = errors.New("snapshot: short file header")

	// ErrOrderingViolation is returned by Builder.AppendFrames when a frame
	// does not have a strictly smaller frame_no than the previous one.
	ErrOrderingViolation = errors.New("snapshot: frames not in strictly decreasing frame_no order")

	// ErrEmptyBuild is returned by Finish when no frames were ever appended.
	ErrEmptyBuild = errors.New("snapshot: cannot finish a build with no frames")
)
