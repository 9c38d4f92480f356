// Package monitor wires the stream client, snapshot loader, reconciler,
// and alert queue into one lifetime-scoped session. Tearing the session
// down cancels every timer and connection it owns.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/alerts"
	"github.com/mistakeknot/warewatch/internal/core"
	"github.com/mistakeknot/warewatch/internal/grid"
	"github.com/mistakeknot/warewatch/internal/reconcile"
)

// ErrUnauthorized mirrors client.ErrUnauthorized so callers can trigger
// re-authentication without importing the transport package.
var ErrUnauthorized = client.ErrUnauthorized

// Session owns one monitoring lifetime: snapshot baseline, live stream,
// canonical model, and the alert stack. Construct with New, start with
// Start, and always Close.
type Session struct {
	api    *client.Client
	stream *client.StreamClient
	rec    *reconcile.Reconciler
	queue  *alerts.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// Config carries the session collaborators. Backoff and TTL overrides
// are for tests; zero values take the production defaults.
type Config struct {
	BaseURL  string
	Token    string
	Notifier alerts.Notifier

	StreamOptions []client.StreamOption
	AlertTTL      time.Duration
}

func New(cfg Config) *Session {
	queueOpts := []alerts.Option{}
	if cfg.Notifier != nil {
		queueOpts = append(queueOpts, alerts.WithNotifier(cfg.Notifier))
	}
	if cfg.AlertTTL > 0 {
		queueOpts = append(queueOpts, alerts.WithTTL(cfg.AlertTTL))
	}
	queue := alerts.NewQueue(queueOpts...)

	rec := reconcile.New(reconcile.WithAlertSink(func(ev core.AlertEvent) {
		queue.Add(ev)
	}))

	// The hook runs on the stream goroutine before the connection's
	// first read, so the gate is always re-armed ahead of that
	// connection's initial_data reaching the apply loop.
	streamOpts := append([]client.StreamOption{
		client.WithStreamToken(cfg.Token),
		client.WithConnectHook(rec.AwaitBaseline),
	}, cfg.StreamOptions...)

	return &Session{
		api:    client.New(cfg.BaseURL, client.WithToken(cfg.Token)),
		stream: client.NewStreamClient(cfg.BaseURL, streamOpts...),
		rec:    rec,
		queue:  queue,
	}
}

// Start fetches the snapshot baseline and brings the stream up. An
// authorization failure is returned to the caller for re-auth; a
// transient snapshot failure is logged and tolerated, because the
// stream's own initial_data will baseline the model once it connects.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	snap, err := s.api.DashboardCurrent(s.ctx)
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("load snapshot: %w", err)
	case err != nil:
		log.Printf("monitor: snapshot unavailable, waiting for stream baseline: %v", err)
	default:
		s.rec.Seed(snap)
	}

	s.stream.Connect(s.ctx)

	s.wg.Add(1)
	go s.applyLoop()
	return nil
}

// applyLoop is the single goroutine that mutates the canonical model.
// Messages from one connection apply in receive order, and the connect
// hook has already re-armed the baseline gate before the first of them
// was read.
func (s *Session) applyLoop() {
	defer s.wg.Done()
	for env := range s.stream.Messages() {
		s.rec.Apply(env)
	}
}

// View returns a copy of the materialized model.
func (s *Session) View() reconcile.Model {
	return s.rec.View()
}

// CellStatuses projects the current model onto the warehouse grid.
func (s *Session) CellStatuses(now time.Time) map[grid.Cell]grid.CellState {
	m := s.rec.View()
	return grid.Statuses(m.Robots, m.RecentScans, now)
}

// Markers places the current robot set on the grid.
func (s *Session) Markers() []grid.Marker {
	return grid.Markers(s.rec.View().Robots)
}

// ConnState reports the stream connection state.
func (s *Session) ConnState() client.ConnState {
	return s.stream.State()
}

// Alerts returns the live alert stack, oldest first.
func (s *Session) Alerts() []alerts.Alert {
	return s.queue.Active()
}

// Dismiss removes one alert early.
func (s *Session) Dismiss(id string) {
	s.queue.Dismiss(id)
}

// Pause freezes model application. The transport keeps its own
// lifecycle: reconnects proceed while paused, they just apply nothing.
func (s *Session) Pause() {
	s.rec.Pause()
}

// Resume re-enables model application with the next event.
func (s *Session) Resume() {
	s.rec.Resume()
}

// Paused reports whether model application is frozen.
func (s *Session) Paused() bool {
	return s.rec.Paused()
}

// Close tears the session down: stream closed, reconnect and ping
// timers cancelled, alert timers cancelled, apply loop drained. Safe
// from any state, any number of times; anything firing afterwards is a
// no-op.
func (s *Session) Close() {
	s.closed.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.stream.Close()
		s.wg.Wait()
		s.queue.Close()
	})
}
