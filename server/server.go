// Package voxserv exposes a conversation over HTTP and pushes transcript
// changes to websocket viewers.
package voxserv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/voxchat/chat"
)

const (
	defaultServerAddr = "localhost:8090"
	maxTextBody       = 64 << 10
	shutdownTimeout   = 5 * time.Second
)

type Config struct {
	Addr string

	// Serve TLS when both are set.
	CertFile string
	KeyFile  string
}

type Server struct {
	ctrl     *chat.Controller
	config   Config
	router   *mux.Router
	conns    *ConnectionList
	upgrader websocket.Upgrader
}

func New(ctrl *chat.Controller, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultServerAddr
	}

	s := &Server{
		ctrl:   ctrl,
		config: cfg,
		conns:  NewConnectionList(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/state", s.handleState).Methods("GET")
	router.HandleFunc("/api/text", s.handleText).Methods("POST")
	router.HandleFunc("/api/recording/start", s.handleRecordingStart).Methods("POST")
	router.HandleFunc("/api/recording/stop", s.handleRecordingStop).Methods("POST")
	router.HandleFunc("/api/messages/{id}/audio", s.handleAudio).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket)
	s.router = router

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.router,
	}

	s.Forward(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			err = srv.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("Serving conversation", "address", s.config.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	s.conns.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}

// Forward subscribes to the controller and pushes every snapshot to the
// websocket viewers until ctx is done. Start calls it; callers serving
// Handler themselves must too.
func (s *Server) Forward(ctx context.Context) {
	updates, cancel := s.ctrl.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if s.conns.Len() == 0 {
					continue
				}
				payload, err := snapshotFrame(snap)
				if err != nil {
					slog.Error("Failed to encode snapshot", "error", err)
					continue
				}
				s.conns.Broadcast(payload)
			}
		}
	}()
}

func snapshotFrame(snap chat.Snapshot) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Payload:   viewOf(snap),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// admission maps a controller admission error to a response.
func (s *Server) admission(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, viewOf(s.ctrl.Snapshot()))
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrNotRecording):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.ctrl.Snapshot()))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	slog.Debug("Text submitted over HTTP", "remote", r.RemoteAddr)
	s.admission(w, s.ctrl.SubmitTextAsync(r.Context(), req.Prompt))
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.admission(w, s.ctrl.StartRecording(r.Context()))
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	s.admission(w, s.ctrl.StopRecordingAsync(r.Context()))
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	msg, ok := s.ctrl.Transcript().Get(id)
	if !ok || !msg.HasAudio() {
		http.Error(w, "Audio not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", msg.Audio.MediaType)
	w.Header().Set("Content-Length", fmt.Sprint(msg.Audio.Len()))
	w.Write(msg.Audio.Data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		list: s.conns,
	}

	// Register before taking the first snapshot so no change is missed.
	s.conns.Add(wsConn)
	if payload, err := snapshotFrame(s.ctrl.Snapshot()); err == nil {
		s.conns.Send(wsConn.id, payload)
	}
	slog.Debug("Viewer connected", "connectionID", wsConn.id, "remote", r.RemoteAddr)

	go wsConn.writePump()
	go wsConn.readPump()
}
