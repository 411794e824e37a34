package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siyicam/siyicam/pkg/log"
	"github.com/stretchr/testify/require"
)

// fakeSource yields a frame every 'interval', or only misses if interval is zero.
type fakeSource struct {
	openErr  error
	interval time.Duration

	nOpens  atomic.Int32
	nCloses atomic.Int32
	nReads  atomic.Int64
}

func (f *fakeSource) Open(address string) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.nOpens.Add(1)
	return nil
}

func (f *fakeSource) Read() *Frame {
	n := f.nReads.Add(1)
	if f.interval == 0 {
		time.Sleep(2 * time.Millisecond)
		return nil
	}
	time.Sleep(f.interval)
	return &Frame{
		Data:       []byte{byte(n)},
		ReceivedAt: time.Now(),
	}
}

func (f *fakeSource) Close() {
	f.nCloses.Add(1)
}

// tickingClock is a manual clock, advanced by the source's Read, so that the
// staleness path is testable without real elapsed wall time.
type tickingClock struct {
	lock sync.Mutex
	t    time.Time
}

func (c *tickingClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.t
}

func (c *tickingClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.t = c.t.Add(d)
}

// missSource never yields a frame, and advances the clock on every read
type missSource struct {
	fakeSource
	clock *tickingClock
	step  time.Duration
}

func (m *missSource) Read() *Frame {
	m.nReads.Add(1)
	m.clock.Advance(m.step)
	return nil
}

func waitShutdown(t *testing.T, s *Session) {
	select {
	case <-s.ShutdownComplete:
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not shut down in time")
	}
}

func TestFramesArrive(t *testing.T) {
	source := &fakeSource{interval: 10 * time.Millisecond}
	s := NewSession(log.NewTestingLog(t), SessionConfig{Timeout: 500 * time.Millisecond}, source)
	require.NoError(t, s.Start())

	// Hammer LatestFrame from another goroutine while the loop is producing
	stopReader := make(chan bool)
	go func() {
		for {
			select {
			case <-stopReader:
				return
			default:
				s.LatestFrame()
			}
		}
	}()

	require.Eventually(t, func() bool { return s.LatestFrame() != nil }, 500*time.Millisecond, 5*time.Millisecond)

	first := s.LatestFrame()
	require.Eventually(t, func() bool { return s.LatestFrame() != first }, 500*time.Millisecond, 5*time.Millisecond)
	require.False(t, s.LatestFrame().ReceivedAt.Before(first.ReceivedAt))

	require.False(t, s.Stopped())
	close(stopReader)
	s.Stop()
	waitShutdown(t, s)
	require.True(t, s.Stopped())
}

func TestStalenessShutdown(t *testing.T) {
	// A source that never yields a frame must trip the timeout without any
	// external call to Stop
	source := &fakeSource{}
	s := NewSession(log.NewTestingLog(t), SessionConfig{Timeout: 100 * time.Millisecond}, source)
	require.NoError(t, s.Start())

	waitShutdown(t, s)
	require.True(t, s.Stopped())
	require.Equal(t, int32(1), source.nCloses.Load())
	require.Nil(t, s.LatestFrame())
}

func TestStalenessDeterministic(t *testing.T) {
	clock := &tickingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	source := &missSource{clock: clock, step: 50 * time.Millisecond}
	s := NewSession(log.NewTestingLog(t), SessionConfig{Timeout: time.Second}, source)
	s.now = clock.Now
	require.NoError(t, s.Start())

	waitShutdown(t, s)
	require.True(t, s.Stopped())
	// A run of misses never advanced the liveness clock
	require.Equal(t, clock.t.Add(-time.Duration(source.nReads.Load())*source.step), s.LastFrameAt())
	// 21 reads of 50ms each push elapsed past the 1s timeout
	require.Equal(t, int64(21), source.nReads.Load())
}

func TestStopIdempotent(t *testing.T) {
	source := &fakeSource{interval: 5 * time.Millisecond}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	require.NoError(t, s.Start())

	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
	waitShutdown(t, s)

	s.Stop()
	require.Equal(t, int32(1), source.nCloses.Load())
	require.True(t, s.Stopped())
}

func TestFrameFrozenAfterStop(t *testing.T) {
	source := &fakeSource{interval: 5 * time.Millisecond}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.LatestFrame() != nil }, time.Second, 5*time.Millisecond)
	s.Stop()
	waitShutdown(t, s)

	frozen := s.LatestFrame()
	require.NotNil(t, frozen)
	time.Sleep(20 * time.Millisecond)
	require.Same(t, frozen, s.LatestFrame())
}

func TestConnectionFailed(t *testing.T) {
	source := &fakeSource{openErr: errors.New("connection refused")}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	err := s.Start()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.False(t, s.Stopped())
	require.Equal(t, int64(0), source.nReads.Load())
}

type quitPreview struct {
	quitAfter int64
	nFrames   atomic.Int64
	nCloses   atomic.Int32
}

func (p *quitPreview) OnFrame(cameraName string, frame *Frame) bool {
	return p.nFrames.Add(1) >= p.quitAfter
}

func (p *quitPreview) Close() {
	p.nCloses.Add(1)
}

func TestPreviewQuitStopsSession(t *testing.T) {
	source := &fakeSource{interval: 5 * time.Millisecond}
	preview := &quitPreview{quitAfter: 3}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	s.SetPreviewSink(preview)
	s.SetPreviewEnabled(true)
	require.NoError(t, s.Start())

	waitShutdown(t, s)
	require.True(t, s.Stopped())
	require.Equal(t, int64(3), preview.nFrames.Load())
	require.Equal(t, int32(1), preview.nCloses.Load())
	require.Equal(t, int32(1), source.nCloses.Load())
}

// strictPreview records whether any OnFrame arrived at or after Close
type strictPreview struct {
	lock            sync.Mutex
	closed          bool
	frameAfterClose bool
	nFrames         int
}

func (p *strictPreview) OnFrame(cameraName string, frame *Frame) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		p.frameAfterClose = true
	}
	p.nFrames++
	return false
}

func (p *strictPreview) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
}

func TestPreviewClosedAfterLastFrame(t *testing.T) {
	// An external Stop lands while frames are flowing. The sink must see
	// Close strictly after its final OnFrame.
	source := &fakeSource{interval: time.Millisecond}
	preview := &strictPreview{}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	s.SetPreviewSink(preview)
	s.SetPreviewEnabled(true)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.LatestFrame() != nil }, time.Second, time.Millisecond)
	s.Stop()
	waitShutdown(t, s)

	preview.lock.Lock()
	defer preview.lock.Unlock()
	require.True(t, preview.closed)
	require.False(t, preview.frameAfterClose)
}

func TestPreviewClosedWhenStartFails(t *testing.T) {
	source := &fakeSource{openErr: errors.New("connection refused")}
	preview := &strictPreview{}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	s.SetPreviewSink(preview)
	require.Error(t, s.Start())

	s.Stop()
	preview.lock.Lock()
	defer preview.lock.Unlock()
	require.True(t, preview.closed)
	require.Equal(t, 0, preview.nFrames)
}

func TestPreviewDisabledByDefault(t *testing.T) {
	source := &fakeSource{interval: 5 * time.Millisecond}
	preview := &quitPreview{quitAfter: 1}
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, source)
	s.SetPreviewSink(preview)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.LatestFrame() != nil }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(0), preview.nFrames.Load())
	s.Stop()
	waitShutdown(t, s)
}

func TestConfigDefaults(t *testing.T) {
	s := NewSession(log.NewTestingLog(t), SessionConfig{}, &fakeSource{})
	require.Equal(t, "rtsp://192.168.144.25:8554/main.264", s.URL())
	require.Equal(t, "SIYI ZR10", s.Name())
	require.Equal(t, DefaultTimeout, s.cfg.Timeout)

	s = NewSession(log.NewTestingLog(t), SessionConfig{Port: "555"}, &fakeSource{})
	require.Equal(t, "rtsp://192.168.144.25:555/main.264", s.URL())

	s = NewSession(log.NewTestingLog(t), SessionConfig{URL: "rtsp://10.0.0.7:554/ch0", Port: "555"}, &fakeSource{})
	require.Equal(t, "rtsp://10.0.0.7:554/ch0", s.URL())
}
