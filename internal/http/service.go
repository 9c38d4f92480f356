// Package httpapi serves the dashboard REST surface: robot ingest,
// the full-state snapshot, and the per-cell zone status map.
package httpapi

import "github.com/mistakeknot/warewatch/internal/storage"

type Service struct {
	store storage.Store
	bus   Broadcaster
}

// Broadcaster fans an event out to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event any)
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

func (s *Service) broadcast(event any) {
	if s.bus != nil {
		s.bus.Broadcast(event)
	}
}
