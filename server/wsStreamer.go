package server

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/siyicam/siyicam/pkg/log"
	"github.com/siyicam/siyicam/server/camera"
)

type webSocketMsg int

const (
	webSocketMsgPause  webSocketMsg = iota // pause stream (eg browser tab deactivated)
	webSocketMsgResume                     // resume stream (eg browser tab reactivated)
)

// Sent by client over websocket
type webSocketJSON struct {
	Command string `json:"command"`
}

// Number of frames that we will buffer on the send side, before dropping
// frames to the sender
const webSocketSendBufferSize = 30

// How often we poll the session for a new frame. The SIYI cameras top out at
// 30 FPS, so 20ms keeps us ahead of the frame rate.
const webSocketPollInterval = 20 * time.Millisecond

var nextWebSocketStreamerID int64

// frameWebSocketStreamer forwards a session's frames over a websocket.
// It is a pure consumer of the session's latest-frame slot; a slow client
// never blocks the receive loop.
type frameWebSocketStreamer struct {
	log           log.Log
	streamerID    int64 // Intended to aid in logging/debugging
	session       *camera.Session
	closed        atomic.Bool
	paused        atomic.Bool
	done          chan bool // closed when the run loop exits
	fromWebSocket chan webSocketMsg
	sendQueue     chan *camera.Frame
	nFramesSent   int64
	nFramesDrop   int64
	lastDropMsg   time.Time
}

func RunFrameWebSocketStreamer(logger log.Log, conn *websocket.Conn, sess *camera.Session) {
	streamerID := atomic.AddInt64(&nextWebSocketStreamerID, 1)

	streamer := &frameWebSocketStreamer{
		log:           log.NewPrefixLogger(logger, fmt.Sprintf("Camera %v WebSocket %v", sess.Name(), streamerID)),
		streamerID:    streamerID,
		session:       sess,
		done:          make(chan bool),
		fromWebSocket: make(chan webSocketMsg, 1),
		sendQueue:     make(chan *camera.Frame, webSocketSendBufferSize),
	}
	streamer.run(conn)
}

func (s *frameWebSocketStreamer) run(conn *websocket.Conn) {
	defer conn.Close()

	go s.webSocketReader(conn)
	go s.webSocketWriter(conn)

	ticker := time.NewTicker(webSocketPollInterval)
	defer ticker.Stop()

	lastSent := time.Time{}
	for !s.closed.Load() {
		select {
		case <-ticker.C:
			if s.session.Stopped() {
				s.log.Infof("Session stopped, closing streamer")
				s.closed.Store(true)
				continue
			}
			if s.paused.Load() {
				continue
			}
			frame := s.session.LatestFrame()
			if frame == nil || !frame.ReceivedAt.After(lastSent) {
				continue
			}
			lastSent = frame.ReceivedAt
			s.onFrame(frame)
		case wsMsg, ok := <-s.fromWebSocket:
			if !ok {
				s.log.Infof("Websocket closed by client")
				s.closed.Store(true)
				continue
			}
			switch wsMsg {
			case webSocketMsgPause:
				s.paused.Store(true)
			case webSocketMsgResume:
				s.paused.Store(false)
			}
		}
	}
	close(s.done)
	close(s.sendQueue)
}

func (s *frameWebSocketStreamer) onFrame(frame *camera.Frame) {
	if len(s.sendQueue) >= webSocketSendBufferSize {
		s.nFramesDrop++
		if now := time.Now(); now.Sub(s.lastDropMsg) > 5*time.Second {
			s.log.Infof("Dropped %v/%v frames", s.nFramesDrop, s.nFramesDrop+s.nFramesSent)
			s.lastDropMsg = now
		}
		return
	}
	s.nFramesSent++
	s.sendQueue <- frame
}

// Read from the websocket and post to our own channel, so that we can
// run a single loop that handles reads from websocket and reads from camera.
func (s *frameWebSocketStreamer) webSocketReader(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage {
			msg := webSocketJSON{}
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Infof("Failed to decode websocket JSON: %v", err)
				continue
			}
			switch msg.Command {
			case "pause":
				if !s.postFromWebSocket(webSocketMsgPause) {
					return
				}
			case "resume":
				if !s.postFromWebSocket(webSocketMsgResume) {
					return
				}
			default:
				s.log.Infof("Unknown websocket command from client: '%v'", msg.Command)
			}
		}
	}
	close(s.fromWebSocket)
}

// postFromWebSocket hands a parsed command to the run loop, or reports false
// if the run loop has already exited. Without the done case, a command parsed
// just as the session stops would block this send forever.
func (s *frameWebSocketStreamer) postFromWebSocket(msg webSocketMsg) bool {
	select {
	case s.fromWebSocket <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Run a thread that is responsible for writing to the websocket.
// We run this on a separate thread so that if a client (aka browser) is slow,
// it doesn't end up blocking the poll loop.
func (s *frameWebSocketStreamer) webSocketWriter(conn *websocket.Conn) {
	sentKeyframe := false
	for {
		frame, more := <-s.sendQueue
		if !more || s.closed.Load() {
			break
		}
		if s.paused.Load() {
			// When paused, drop all queued frames
			continue
		}
		// A decoder on the other side can't do anything until it has a keyframe
		if !sentKeyframe && !frame.Keyframe {
			continue
		}
		sentKeyframe = true
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
			s.log.Infof("Error writing to websocket %v: %v", s.streamerID, err)
		}
	}
}
