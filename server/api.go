package server

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/siyicam/siyicam/pkg/www"
	"github.com/siyicam/siyicam/server/camera"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) setupRoutes() *httprouter.Router {
	router := httprouter.New()

	// Snapshots can be polled aggressively by dumb clients, so rate limit them per IP
	snapshotLimit := httprate.Limit(10, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP))

	www.Handle(s.Log, router, "GET", "/api/cameras", s.httpCamList)
	www.Handle(s.Log, router, "GET", "/api/camera/:name/info", s.httpCamInfo)
	www.Handle(s.Log, router, "POST", "/api/camera/:name/stop", s.httpCamStop)
	www.Handle(s.Log, router, "POST", "/api/camera/:name/preview/:enabled", s.httpCamSetPreview)
	www.Handle(s.Log, router, "GET", "/camera/:name/latest", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		snapshotLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.httpCamLatestFrame(w, r, params)
		})).ServeHTTP(w, r)
	})
	www.Handle(s.Log, router, "GET", "/camera/:name/ws", s.httpCamWS)

	return router
}

func (s *Server) sessionFromParams(params httprouter.Params) *camera.Session {
	sess := s.SessionByName(params.ByName("name"))
	if sess == nil {
		www.PanicNotFound()
	}
	return sess
}

type cameraInfoJSON struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Stopped     bool      `json:"stopped"`
	FPS         float64   `json:"fps"`
	HasFrame    bool      `json:"hasFrame"`
	LastFrameAt time.Time `json:"lastFrameAt"`
}

func infoForSession(sess *camera.Session) *cameraInfoJSON {
	return &cameraInfoJSON{
		Name:        sess.Name(),
		URL:         sess.URL(),
		Stopped:     sess.Stopped(),
		FPS:         sess.FPS(),
		HasFrame:    sess.LatestFrame() != nil,
		LastFrameAt: sess.LastFrameAt(),
	}
}

func (s *Server) httpCamList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	infos := []*cameraInfoJSON{}
	for _, sess := range s.Sessions() {
		infos = append(infos, infoForSession(sess))
	}
	www.SendJSON(w, infos)
}

func (s *Server) httpCamInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, infoForSession(s.sessionFromParams(params)))
}

// Example: curl -o latest.h264 localhost:8080/camera/SIYI%20ZR10/latest
func (s *Server) httpCamLatestFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionFromParams(params)
	frame := sess.LatestFrame()
	if frame == nil {
		www.Panic(http.StatusNotFound, "No frame received yet")
	}
	www.CacheNever(w)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(frame.Data)
}

func (s *Server) httpCamStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sessionFromParams(params).Stop()
	www.SendOK(w)
}

func (s *Server) httpCamSetPreview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionFromParams(params)
	enabled := www.ParseBool(params.ByName("enabled"))
	sess.SetPreviewEnabled(enabled)
	s.Log.Infof("Preview of %v set to %v", sess.Name(), enabled)
	www.SendOK(w)
}

func (s *Server) httpCamWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.sessionFromParams(params)
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	RunFrameWebSocketStreamer(s.Log, conn, sess)
}
