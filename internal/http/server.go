package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/notify"
	"github.com/example/ride-lifecycle/internal/ride"
)

// Broadcaster is the admin-facing slice of the notification stack.
type Broadcaster interface {
	Broadcast(ctx context.Context, title, body string) error
}

type Server struct {
	coord       *ride.Coordinator
	auth        auth.Provider
	wsreg       *notify.WSRegistry
	broadcaster Broadcaster
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(coord *ride.Coordinator, provider auth.Provider, wsreg *notify.WSRegistry, broadcaster Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		coord:       coord,
		auth:        provider,
		wsreg:       wsreg,
		broadcaster: broadcaster,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/active", s.handleActiveForRequester).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", s.handleRequesterCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel/fulfiller", s.handleFulfillerCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/refuse", s.handleRefuse).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/expire", s.handleExpire).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/claim", s.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/arrive", s.handleArrive).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/fulfiller/rides/active", s.handleActiveForFulfiller).Methods(http.MethodGet)
	api.HandleFunc("/fulfiller/rides/open", s.handleListOpen).Methods(http.MethodGet)
	api.HandleFunc("/admin/broadcast", s.handleAdminBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{}

// handleWS upgrades an authenticated connection and registers it for live
// ride-status pushes until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, &auth.Error{Reason: "missing bearer token"})
		return
	}
	if s.wsreg == nil {
		http.Error(w, "websocket disabled", http.StatusNotImplemented)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(actor.ID, conn)
	go func() {
		defer s.wsreg.Remove(actor.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
