package camera

import (
	"time"
)

// Frame is one video unit read from a VideoSource.
// We do not decode frames; the payload is an opaque compressed unit
// (an H264 access unit in Annex-B form, for the RTSP source).
type Frame struct {
	Data       []byte
	Keyframe   bool
	ReceivedAt time.Time
}

// VideoSource is the transport that a Session pulls frames from.
// The Session owns the source exclusively: Read is only ever called by the
// session's receive loop, and Close by whichever path tears the session down.
type VideoSource interface {
	// Open connects to the stream at 'address'. Blocks until the connection
	// is established, or fails.
	Open(address string) error

	// Read returns the next frame, or nil if no frame arrived within the
	// source's own polling window. Read must not block indefinitely, so that
	// the session's timeout check gets a chance to run on a silent stream.
	Read() *Frame

	// Close releases the connection. Called at most once.
	Close()
}
