package camera

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siyicam/siyicam/pkg/log"
)

// ErrConnectionFailed is returned by Start when the stream cannot be opened.
// Whether to retry, fall back, or exit the process is the caller's decision.
var ErrConnectionFailed = errors.New("connection failed")

const (
	// DefaultURL is the stream location of a SIYI ZR10 on its factory IP.
	// The {port} segment is replaced with SessionConfig.Port.
	DefaultURL        = "rtsp://192.168.144.25:{port}/main.264"
	DefaultPort       = "8554"
	DefaultCameraName = "SIYI ZR10"
	DefaultTimeout    = 10 * time.Second
)

type SessionConfig struct {
	URL        string        // Stream URL, may contain a {port} placeholder
	Port       string        // Substituted into the {port} placeholder of URL
	CameraName string        // Used in log messages and preview titling
	Timeout    time.Duration // Max gap between successful reads before the session is considered dead
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.CameraName == "" {
		c.CameraName = DefaultCameraName
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Session is one live connection to a camera's streaming endpoint.
// It runs a single background receive loop that pulls frames from the
// VideoSource, keeps the most recent frame available to any number of
// readers, and shuts the session down if the stream goes stale.
type Session struct {
	// ShutdownComplete is closed when the receive loop has exited
	ShutdownComplete chan bool

	log    log.Log
	cfg    SessionConfig
	url    string
	source VideoSource
	now    func() time.Time

	stopped     atomic.Bool
	loopStarted atomic.Bool

	previewEnabled atomic.Bool
	preview        PreviewSink

	// frameLock guards latestFrame, lastFrameAt and intervals.
	// The receive loop is the only writer of latestFrame.
	frameLock   sync.Mutex
	latestFrame *Frame
	lastFrameAt time.Time
	intervals   []time.Duration
}

func NewSession(logger log.Log, cfg SessionConfig, source VideoSource) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		ShutdownComplete: make(chan bool),
		log:              log.NewPrefixLogger(logger, cfg.CameraName+":"),
		cfg:              cfg,
		url:              strings.ReplaceAll(cfg.URL, "{port}", cfg.Port),
		source:           source,
		now:              time.Now,
	}
}

// Start opens the stream and spawns the receive loop.
// A failure to open is fatal to the session; the error wraps ErrConnectionFailed.
func (s *Session) Start() error {
	s.log.Infof("Connecting to %v...", s.url)
	if err := s.source.Open(s.url); err != nil {
		s.log.Errorf("Could not establish connection to %v: %v", s.url, err)
		return fmt.Errorf("%w: %v: %v", ErrConnectionFailed, s.url, err)
	}
	s.log.Infof("Connected to %v", s.url)
	s.loopStarted.Store(true)
	go s.recvLoop()
	return nil
}

// LatestFrame returns the most recently read frame, or nil if no frame has
// arrived yet. Never blocks on the receive loop; after the session has
// stopped, it keeps returning the last good frame.
func (s *Session) LatestFrame() *Frame {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return s.latestFrame
}

// LastFrameAt returns the time of the most recent successful frame read
// (or the loop start time, if no frame has arrived yet).
func (s *Session) LastFrameAt() time.Time {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	return s.lastFrameAt
}

// Stop tears the session down: the receive loop exits within one iteration,
// and the source is closed. Safe to call multiple times, and from any
// goroutine, including the receive loop itself.
func (s *Session) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.log.Infof("Closing stream of %v...", s.cfg.CameraName)
	s.log.Infof("Disconnecting %v ...", s.url)
	s.source.Close()
	// The receive loop closes the preview on its way out, so that the sink
	// never sees OnFrame after Close. If the loop never ran, we do it here.
	if !s.loopStarted.Load() && s.preview != nil {
		s.preview.Close()
	}
}

// Stopped returns true once the session has been torn down (by Stop, by a
// stale stream, or by the preview's quit signal). A true result never
// reverts to false.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// SetPreviewEnabled toggles the per-frame preview side effect.
// Has no effect on frame acquisition.
func (s *Session) SetPreviewEnabled(enabled bool) {
	s.previewEnabled.Store(enabled)
}

// SetPreviewSink injects the preview collaborator. Call before Start.
func (s *Session) SetPreviewSink(sink PreviewSink) {
	s.preview = sink
}

func (s *Session) Name() string {
	return s.cfg.CameraName
}

func (s *Session) URL() string {
	return s.url
}

// FPS estimates the stream's frame rate from recent frame intervals.
func (s *Session) FPS() float64 {
	s.frameLock.Lock()
	intervals := make([]time.Duration, len(s.intervals))
	copy(intervals, s.intervals)
	s.frameLock.Unlock()
	return EstimateFPS(intervals)
}

func (s *Session) String() string {
	attribs := []string{
		fmt.Sprintf("Camera Name: %v", s.cfg.CameraName),
		fmt.Sprintf("URL: %v", s.url),
		fmt.Sprintf("Timeout: %v", s.cfg.Timeout),
		fmt.Sprintf("Stopped: %v", s.stopped.Load()),
		fmt.Sprintf("Preview: %v", s.previewEnabled.Load()),
		fmt.Sprintf("Last Frame At: %v", s.LastFrameAt()),
	}
	return strings.Join(attribs, "\n")
}

// recvLoop is the session's sole frame producer. It runs until the session
// is stopped, either externally or by its own staleness check.
func (s *Session) recvLoop() {
	defer func() {
		if s.preview != nil {
			s.preview.Close()
		}
		close(s.ShutdownComplete)
	}()

	s.frameLock.Lock()
	s.lastFrameAt = s.now()
	s.frameLock.Unlock()

	for !s.stopped.Load() {
		s.log.Debugf("Reading frame from %v ...", s.cfg.CameraName)
		frame := s.source.Read()

		// The staleness check runs every iteration, whether or not the read
		// succeeded. A stream that degrades into returning only empty reads
		// must still trip the timeout.
		readAt := s.now()
		if readAt.Sub(s.LastFrameAt()) > s.cfg.Timeout {
			s.log.Warnf("Connection timeout. Exiting...")
			s.Stop()
			break
		}

		// A miss does not reset the liveness clock; only a successful read does
		if frame == nil {
			continue
		}

		s.storeFrame(frame, readAt)

		if s.previewEnabled.Load() && s.preview != nil {
			if quit := s.preview.OnFrame(s.cfg.CameraName, frame); quit {
				s.Stop()
				break
			}
		}
	}

	s.log.Infof("Receive loop is done")
}

func (s *Session) storeFrame(frame *Frame, readAt time.Time) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	if s.latestFrame != nil {
		s.intervals = append(s.intervals, readAt.Sub(s.lastFrameAt))
		if len(s.intervals) > maxFrameIntervals {
			s.intervals = s.intervals[1:]
		}
	}
	s.latestFrame = frame
	if readAt.After(s.lastFrameAt) {
		s.lastFrameAt = readAt
	}
}
