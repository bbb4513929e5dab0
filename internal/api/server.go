package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"traderoom/internal/config"
	"traderoom/internal/room"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	rooms *room.Service
	mux   *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, rooms *room.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		rooms: rooms,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{id}", s.handleRoomDetail)
		r.Post("/rooms/{id}/advance", s.handleAdvanceRoom)
		r.Post("/rooms/{id}/join", s.handleJoinRoom)
		r.Post("/rooms/{id}/reconcile", s.handleReconcileRoom)
		r.Get("/rooms/{id}/completion", s.handleCompletionRecord)
		r.Post("/memberships/{id}/status", s.handleMembershipStatus)
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MinPlayers int `json:"min_players"`
		MaxPlayers int `json:"max_players"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.rooms.CreateRoom(r.Context(), in.MinPlayers, in.MaxPlayers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	filter := room.VisibleActive
	if strings.EqualFold(r.URL.Query().Get("filter"), string(room.VisibleCompleted)) {
		filter = room.VisibleCompleted
	}
	out, err := s.rooms.VisibleRooms(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out, "filter": string(filter)})
}

func (s *Server) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	rm, memberships, err := s.rooms.RoomDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":        rm,
		"memberships": memberships,
		"visibility":  string(room.Classify(rm)),
	})
}

func (s *Server) handleAdvanceRoom(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := room.ParseRoomStatus(in.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.rooms.Advance(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	out, err := s.rooms.Join(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(in.UserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleReconcileRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if err := s.rooms.ForceReconcile(r.Context(), roomID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "room_id": roomID})
}

func (s *Server) handleCompletionRecord(w http.ResponseWriter, r *http.Request) {
	out, err := s.rooms.CompletionRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMembershipStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := room.ParseMemberStatus(in.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.rooms.Transition(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, room.ErrMembershipNotFound),
		errors.Is(err, room.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrInvalidTransition),
		errors.Is(err, room.ErrInvalidBounds),
		errors.Is(err, room.ErrRoomFull),
		errors.Is(err, room.ErrRoomClosed),
		errors.Is(err, room.ErrNotEnoughPlayers):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrForbiddenTransition):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, room.ErrConflict),
		errors.Is(err, room.ErrDuplicateMember):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, room.ErrDetectionTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, room.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
