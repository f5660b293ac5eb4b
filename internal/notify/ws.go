package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// wsFrame is the JSON envelope pushed over a live connection.
type wsFrame struct {
	Type   string             `json:"type"`
	Ride   *models.Ride       `json:"ride,omitempty"`
	Status *models.RideStatus `json:"status,omitempty"`
	Title  string             `json:"title,omitempty"`
	Body   string             `json:"body,omitempty"`
}

type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds one live session per connected user. It satisfies
// Notifier so connected clients see status changes without polling the
// read mirror.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*wsSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[int64]*wsSession)}
}

func (r *WSRegistry) Add(userID int64, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &wsSession{conn: conn}
}

func (r *WSRegistry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *WSRegistry) NewRide(ctx context.Context, ride models.Ride) error {
	return r.broadcast(wsFrame{Type: "new_ride", Ride: &ride})
}

func (r *WSRegistry) RideStatus(ctx context.Context, ride models.Ride, status models.RideStatus) error {
	frame := wsFrame{Type: "ride_status", Ride: &ride, Status: &status}
	var errs []error
	if err := r.sendTo(ride.RequesterID, frame); err != nil && !errors.Is(err, ErrNoSession) {
		errs = append(errs, err)
	}
	if ride.FulfillerID != nil {
		if err := r.sendTo(*ride.FulfillerID, frame); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *WSRegistry) Broadcast(ctx context.Context, title, body string) error {
	return r.broadcast(wsFrame{Type: "broadcast", Title: title, Body: body})
}

func (r *WSRegistry) sendTo(userID int64, frame wsFrame) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(frame)
}

func (r *WSRegistry) broadcast(frame wsFrame) error {
	r.mu.RLock()
	sessions := make([]*wsSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	var errs []error
	for _, s := range sessions {
		if err := s.send(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
