package server

import (
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/siyicam/siyicam/pkg/log"
	"github.com/siyicam/siyicam/server/camera"
	"github.com/siyicam/siyicam/server/config"
)

// Server owns the camera sessions and the HTTP API.
type Server struct {
	Log log.Log

	// ShutdownComplete is closed when all sessions have shut down
	ShutdownComplete chan bool

	sessions       []*camera.Session
	sessionsByName map[string]*camera.Session
	running        []*camera.Session // sessions whose receive loop is live

	// httpLock guards httpServer, so that Shutdown sees the server that
	// ListenHTTP created, in whichever order the two are called.
	httpLock       sync.Mutex
	httpServer     *http.Server
	shutdownCalled atomic.Bool
}

func NewServer(logger log.Log) *Server {
	return &Server{
		Log:              logger,
		ShutdownComplete: make(chan bool),
		sessionsByName:   map[string]*camera.Session{},
	}
}

// NewServerFromConfig creates the sessions described by cfg, each with an
// RTSP source. Nothing is connected yet; call StartAll for that.
func NewServerFromConfig(logger log.Log, cfg *config.Config) *Server {
	s := NewServer(logger)
	for _, cam := range cfg.Cameras {
		source := camera.NewRTSPSource(log.NewPrefixLogger(logger, cam.Name+":"))
		sess := camera.NewSession(logger, camera.SessionConfig{
			URL:        cam.URL,
			Port:       cam.Port,
			CameraName: cam.Name,
			Timeout:    cam.Timeout(),
		}, source)
		sess.SetPreviewSink(&camera.LogPreview{Log: logger})
		if cam.Preview {
			sess.SetPreviewEnabled(true)
		}
		s.AddSession(sess)
	}
	return s
}

// AddSession registers a session with the server. Call before StartAll.
func (s *Server) AddSession(sess *camera.Session) {
	s.sessions = append(s.sessions, sess)
	s.sessionsByName[sess.Name()] = sess
}

// StartAll connects every session. Sessions that fail to connect are logged,
// and the first error is returned, but the remaining sessions still start.
func (s *Server) StartAll() error {
	var firstErr error
	for _, sess := range s.sessions {
		if err := sess.Start(); err != nil {
			s.Log.Errorf("Error starting camera %v: %v", sess.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			s.running = append(s.running, sess)
		}
	}
	return firstErr
}

// Sessions returns all sessions, connected or not.
func (s *Server) Sessions() []*camera.Session {
	return s.sessions
}

func (s *Server) SessionByName(name string) *camera.Session {
	return s.sessionsByName[name]
}

// ListenHTTP blocks, serving the API until Shutdown is called.
// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.httpLock.Lock()
	if s.shutdownCalled.Load() {
		// A kill signal can arrive before we get here
		s.httpLock.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.setupRoutes(),
	}
	server := s.httpServer
	s.httpLock.Unlock()

	s.Log.Infof("Listening on %v", port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops all sessions, waits for their receive loops to drain, and
// closes the HTTP listener. Safe to call more than once.
func (s *Server) Shutdown() {
	if !s.shutdownCalled.CompareAndSwap(false, true) {
		return
	}
	s.Log.Infof("Shutting down")
	for _, sess := range s.sessions {
		sess.Stop()
	}
	for _, sess := range s.running {
		<-sess.ShutdownComplete
	}
	s.httpLock.Lock()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.httpLock.Unlock()
	close(s.ShutdownComplete)
}

// ListenForKillSignals starts a goroutine that triggers Shutdown on SIGINT or SIGTERM.
func (s *Server) ListenForKillSignals() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		s.Log.Infof("Received signal %v", sig)
		s.Shutdown()
	}()
}
