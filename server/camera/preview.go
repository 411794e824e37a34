package camera

import (
	"github.com/siyicam/siyicam/pkg/log"
)

// PreviewSink consumes frames for display or diagnostics. It is a pure
// consumer: acquisition correctness does not depend on what it does.
// OnFrame returns true to request session shutdown (the equivalent of the
// user closing a preview window).
type PreviewSink interface {
	OnFrame(cameraName string, frame *Frame) (quit bool)
	Close()
}

// LogPreview is a headless preview sink that periodically logs frame arrival.
type LogPreview struct {
	Log   log.Log
	Every int // Log every Nth frame. Zero means every 30th.

	nFrames int64
}

func (p *LogPreview) OnFrame(cameraName string, frame *Frame) bool {
	every := int64(p.Every)
	if every == 0 {
		every = 30
	}
	p.nFrames++
	if p.nFrames%every == 0 {
		p.Log.Infof("%v preview: frame %v, %v bytes", cameraName, p.nFrames, len(frame.Data))
	}
	return false
}

func (p *LogPreview) Close() {
	p.Log.Infof("Preview closed after %v frames", p.nFrames)
}
