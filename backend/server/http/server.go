package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/twinlens/twinlens/backend/registry"
	"github.com/twinlens/twinlens/backend/stitch"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	// Stitch submissions are a session id, two URLs and a layout name.
	maxStitchBodySize = 8 << 10
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// RoomDirectory is the registry surface behind the room endpoints:
	// thin reads and writes, no coordination logic.
	RoomDirectory interface {
		NewRoomID() string
		GetOrCreate(roomID string) registry.Status
		Snapshot(roomID string) (registry.Status, bool)
		Len() int
	}

	// Stitcher is the image-composition collaborator.
	Stitcher interface {
		Submit(req stitch.Request) error
		Lookup(sessionID string) stitch.Status
	}

	Config struct {
		Logger     *zerolog.Logger
		Rooms      RoomDirectory
		Stitcher   Stitcher
		MediaDir   string
		ListenAddr string
	}

	Server struct {
		logger   zerolog.Logger
		rooms    RoomDirectory
		stitcher Stitcher
		*http.Server
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "api-server").Logger(),
		rooms:    cfg.Rooms,
		stitcher: cfg.Stitcher,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", srv.root)
	r.Get("/health", srv.health)
	r.Post("/api/room/create", srv.createRoom)
	r.Get("/api/room/{roomID}/status", srv.roomStatus)
	r.Get("/api/time", srv.serverTime)
	r.Post("/api/stitch", srv.submitStitch)
	r.Get("/api/stitch/{sessionID}", srv.stitchStatus)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "TwinLens Signaling Server",
		"status":  "online",
	}, &srv.logger)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"rooms_active": srv.rooms.Len(),
	}, &srv.logger)
}

func (srv *Server) createRoom(w http.ResponseWriter, _ *http.Request) {
	roomID := srv.rooms.NewRoomID()
	srv.rooms.GetOrCreate(roomID)
	srv.logger.Debug().Str("roomID", roomID).Msg("room created")
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID}, &srv.logger)
}

func (srv *Server) roomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	st, ok := srv.rooms.Snapshot(roomID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Room not found"}, &srv.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"peers":   st.PeerCount,
		"full":    st.Full,
	}, &srv.logger)
}

func (srv *Server) serverTime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"server_time_ms": time.Now().UnixMilli(),
	}, &srv.logger)
}

func (srv *Server) submitStitch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStitchBodySize)
	body, err := io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	var req stitch.Request
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := srv.stitcher.Submit(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, &srv.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": req.SessionID,
		"status":     stitch.StateProcessing,
	}, &srv.logger)
}

func (srv *Server) stitchStatus(w http.ResponseWriter, r *http.Request) {
	st := srv.stitcher.Lookup(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, st, &srv.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zerolog.Logger) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
