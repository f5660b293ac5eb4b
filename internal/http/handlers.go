package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/ride"
)

type rideResponse struct {
	OK   bool         `json:"ok"`
	Ride *models.Ride `json:"ride"`
}

type ridesResponse struct {
	OK    bool          `json:"ok"`
	Rides []models.Ride `json:"rides"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSONError(w, http.StatusBadRequest, errorResponse{Code: "INVALID_PAYLOAD", Message: "request body must be a JSON object"})
		return
	}
	created, err := s.coord.CreateRide(r.Context(), actor, doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rideResponse{OK: true, Ride: created})
}

func (s *Server) handleActiveForRequester(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	active, err := s.coord.ActiveForRequester(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{OK: true, Ride: active})
}

func (s *Server) handleActiveForFulfiller(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	active, err := s.coord.ActiveForFulfiller(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{OK: true, Ride: active})
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	rides, err := s.coord.ListOpen(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ridesResponse{OK: true, Rides: rides})
}

func (s *Server) handleRequesterCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.RequesterCancel)
}

func (s *Server) handleFulfillerCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.FulfillerCancel)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.Claim)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.Arrive)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.Start)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.coord.Complete)
}

func (s *Server) handleRefuse(w http.ResponseWriter, r *http.Request) {
	s.handleVisibility(w, r, s.coord.MarkRefused)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	s.handleVisibility(w, r, s.coord.MarkExpired)
}

type transitionFunc func(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	updated, err := fn(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{OK: true, Ride: updated})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor models.Actor, rideID int64) error) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type broadcastRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handleAdminBroadcast pushes an announcement to every connected or
// subscribed client. ADMIN only.
func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		writeError(w, &ride.ForbiddenRoleError{Required: models.RoleAdmin, Actual: actor.Role})
		return
	}
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeJSONError(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BROADCAST", Message: "title and body required"})
		return
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(r.Context(), req.Title, req.Body); err != nil {
			s.logger.Warn("broadcast failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func rideID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, &ride.NotFoundError{RideID: id})
		return 0, false
	}
	return id, true
}
