package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guidoenr/blowcounter/internal/app"
	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
	"github.com/sirupsen/logrus"
)

const (
	statusInterval = 500 * time.Millisecond
	requestTimeout = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Controller is the part of the application the web surface drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Calibrate(ctx context.Context) error
	Reset(ctx context.Context) error
	UpdateSettings(ctx context.Context, s params.Settings) error
	SetRecording(ctx context.Context, on bool) error
	ClearHistory(ctx context.Context) error
	Status() app.Status
	Subscribe() (<-chan app.Event, func())
}

type Server struct {
	mu        sync.RWMutex
	app       Controller
	log       logrus.FieldLogger
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

type StatusResponse struct {
	RunID       string         `json:"runId,omitempty"`
	Source      string         `json:"source"`
	Running     bool           `json:"running"`
	Calibrating bool           `json:"calibrating"`
	State       string         `json:"state"`
	Count       int            `json:"count"`
	Volume      int            `json:"volume"`
	Snapshot    *blow.Snapshot `json:"snapshot,omitempty"`
	Settings    SettingsView   `json:"settings"`
	Records     int            `json:"records"`
	Message     string         `json:"message,omitempty"`
	Updated     time.Time      `json:"updated"`
}

type SettingsView struct {
	SERRatio         float64 `json:"serRatio"`
	BlowDurationMs   int64   `json:"blowDurationMs"`
	CooldownMs       int64   `json:"cooldownMs"`
	NoiseSuppression bool    `json:"noiseSuppression"`
	Recording        bool    `json:"recording"`
}

// UpdateRequest is a partial settings change; nil fields keep their value.
type UpdateRequest struct {
	SERRatio         *float64 `json:"serRatio,omitempty"`
	BlowDurationMs   *int64   `json:"blowDurationMs,omitempty"`
	CooldownMs       *int64   `json:"cooldownMs,omitempty"`
	NoiseSuppression *bool    `json:"noiseSuppression,omitempty"`
}

type RecordingRequest struct {
	Enabled bool `json:"enabled"`
}

// Message is what websocket clients receive.
type Message struct {
	Type   string         `json:"type"`
	Status StatusResponse `json:"status"`
}

func NewServer(ctrl Controller, logger logrus.FieldLogger) *Server {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Server{
		app:       ctrl,
		log:       logger.WithField("component", "web"),
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/start", s.handleControl(Controller.Start))
	mux.HandleFunc("POST /api/stop", s.handleControl(Controller.Stop))
	mux.HandleFunc("POST /api/calibrate", s.handleControl(Controller.Calibrate))
	mux.HandleFunc("POST /api/reset", s.handleControl(Controller.Reset))
	mux.HandleFunc("POST /api/recording", s.handleRecording)
	mux.HandleFunc("DELETE /api/history", s.handleControl(Controller.ClearHistory))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: requestTimeout,
	}

	s.log.WithField("addr", srv.Addr).Info("server starting")

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go s.eventLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toResponse(s.app.Status()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	settings := s.app.Status().Settings
	if req.SERRatio != nil {
		settings.Thresholds.SERRatio = *req.SERRatio
	}
	if req.BlowDurationMs != nil {
		settings.Thresholds.BlowDuration = time.Duration(*req.BlowDurationMs) * time.Millisecond
	}
	if req.CooldownMs != nil {
		settings.Thresholds.Cooldown = time.Duration(*req.CooldownMs) * time.Millisecond
	}
	if req.NoiseSuppression != nil {
		settings.NoiseSuppression = *req.NoiseSuppression
	}

	if err := s.app.UpdateSettings(r.Context(), settings); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(s.app.Status()))
}

func (s *Server) handleControl(op func(Controller, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(s.app, r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(s.app.Status()))
	}
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var req RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.app.SetRecording(r.Context(), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(s.app.Status()))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, blow.ErrRunning), errors.Is(err, app.ErrStopped):
		code = http.StatusConflict
	case errors.Is(err, app.ErrNoSource), errors.Is(err, app.ErrClosed):
		code = http.StatusServiceUnavailable
	case isValidationError(err):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), code)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		params.ErrSERRatioRange,
		params.ErrBlowDurationRange,
		params.ErrCooldownRange,
		params.ErrGracePeriod,
		params.ErrStdMultiplier,
		params.ErrCentroidCeiling,
		params.ErrCalibrationLength,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func toResponse(st app.Status) StatusResponse {
	th := st.Settings.Thresholds
	return StatusResponse{
		RunID:       st.RunID,
		Source:      st.Source,
		Running:     st.Running,
		Calibrating: st.Calibrating,
		State:       st.State,
		Count:       st.Count,
		Volume:      st.Volume,
		Snapshot:    st.Snapshot,
		Settings: SettingsView{
			SERRatio:         th.SERRatio,
			BlowDurationMs:   th.BlowDuration.Milliseconds(),
			CooldownMs:       th.Cooldown.Milliseconds(),
			NoiseSuppression: st.Settings.NoiseSuppression,
			Recording:        st.Settings.Record,
		},
		Records: st.Records,
		Message: st.Message,
		Updated: st.Updated,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()

	s.queue("status", s.app.Status())
}

func (s *Server) queue(kind string, st app.Status) {
	data, err := json.Marshal(Message{Type: kind, Status: toResponse(st)})
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
		// drop if channel full (non-blocking)
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				close(client.send)
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.queue("status", s.app.Status())
		}
	}
}

func (s *Server) eventLoop(ctx context.Context) {
	events, cancel := s.app.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.queue(string(evt.Type), evt.Status)
		}
	}
}

// removeClient unregisters c and closes its send channel so writePump exits.
// Clients dropped by broadcastLoop are already gone from the map.
func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
