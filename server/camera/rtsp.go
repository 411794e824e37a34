package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"
	"github.com/siyicam/siyicam/pkg/log"
)

// Number of frames buffered between the RTP callback and Read.
// When the buffer fills up (slow consumer), the oldest frame is dropped.
const rtspFrameBufferSize = 16

// How long a single Read waits for a frame before reporting a miss
const rtspReadPoll = 200 * time.Millisecond

// RTSPSource is a VideoSource over an RTSP connection. It selects the H264
// track, reassembles RTP packets into access units, and hands them to Read
// as Annex-B frames.
type RTSPSource struct {
	Log log.Log

	client *gortsplib.Client
	frames chan *Frame
	ident  string // Host + path of the stream, with credentials stripped out
}

func NewRTSPSource(logger log.Log) *RTSPSource {
	return &RTSPSource{
		Log:    logger,
		frames: make(chan *Frame, rtspFrameBufferSize),
	}
}

func (s *RTSPSource) Open(address string) error {
	u, err := base.ParseURL(address)
	if err != nil {
		return fmt.Errorf("Invalid stream URL: %w", err)
	}
	s.ident = u.Host + u.Path

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("Failed to start stream: %w", err)
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("Describe failed: %w", err)
	}

	var h264Format *format.H264
	media := desc.FindFormat(&h264Format)
	if media == nil {
		client.Close()
		return fmt.Errorf("H264 track not found on %v", s.ident)
	}

	rtpDec, err := h264Format.CreateDecoder()
	if err != nil {
		client.Close()
		return fmt.Errorf("Failed to create H264 RTP decoder: %w", err)
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return fmt.Errorf("Setup failed: %w", err)
	}

	client.OnPacketRTP(media, h264Format, func(pkt *rtp.Packet) {
		s.onPacketRTP(rtpDec, pkt)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("Play failed: %w", err)
	}

	s.client = client
	s.Log.Infof("RTSP stream %v playing", s.ident)
	return nil
}

func (s *RTSPSource) onPacketRTP(rtpDec *rtph264.Decoder, pkt *rtp.Packet) {
	au, err := rtpDec.Decode(pkt)
	if err != nil {
		if !errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) &&
			!errors.Is(err, rtph264.ErrMorePacketsNeeded) {
			s.Log.Debugf("Failed to decode RTP packet from %v: %v", s.ident, err)
		}
		return
	}

	payload, err := h264.AnnexBMarshal(au)
	if err != nil {
		s.Log.Debugf("Failed to marshal access unit from %v: %v", s.ident, err)
		return
	}

	frame := &Frame{
		Data:       payload,
		Keyframe:   h264.IDRPresent(au),
		ReceivedAt: time.Now(),
	}

	for {
		select {
		case s.frames <- frame:
			return
		default:
			// Buffer full. Drop the oldest frame so that Read always sees
			// the most recent stream position.
			select {
			case <-s.frames:
			default:
			}
		}
	}
}

func (s *RTSPSource) Read() *Frame {
	select {
	case frame := <-s.frames:
		return frame
	case <-time.After(rtspReadPoll):
		return nil
	}
}

func (s *RTSPSource) Close() {
	if s.client != nil {
		s.Log.Infof("Closing RTSP stream %v", s.ident)
		s.client.Close()
	}
}
