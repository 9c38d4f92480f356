// Package ws hosts the dashboard stream endpoint: every connected
// client gets the full state on accept, then live robot_update,
// new_scan, and inventory_alert events as they happen.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/warewatch/internal/core"
	"github.com/mistakeknot/warewatch/internal/storage"
)

const writeTimeout = 5 * time.Second

type Hub struct {
	store storage.Store
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(store storage.Store) *Hub {
	return &Hub{store: store, conns: make(map[*websocket.Conn]struct{})}
}

// Handler accepts dashboard stream connections. The first frame on
// every connection is initial_data; the read loop then answers pings
// and ignores anything else the client sends.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		ctx := r.Context()
		if err := h.sendInitialData(ctx, conn); err != nil {
			conn.Close(websocket.StatusInternalError, "initial data failed")
			return
		}

		h.add(conn)
		defer h.remove(conn)

		for {
			var msg struct {
				Type core.StreamType `json:"type"`
			}
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("ws: malformed client frame ignored: %v", err)
				continue
			}
			if msg.Type == core.StreamPing {
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(writeCtx, conn, map[string]core.StreamType{"type": core.StreamPong})
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}

// Broadcast sends an event to every connected dashboard. Connections
// that fail the write are closed and dropped.
func (h *Hub) Broadcast(event any) {
	conns := h.snapshot()
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, event)
		cancel()
		if err != nil {
			go func(conn *websocket.Conn) {
				conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(conn)
			}(conn)
		}
	}
}

func (h *Hub) sendInitialData(ctx context.Context, conn *websocket.Conn) error {
	robots, err := h.store.ListRobots()
	if err != nil {
		return err
	}
	recent, err := h.store.RecentScans(20)
	if err != nil {
		return err
	}
	if robots == nil {
		robots = []core.Robot{}
	}
	if recent == nil {
		recent = []core.Scan{}
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, map[string]any{
		"type": core.StreamInitialData,
		"data": map[string]any{
			"robots":       robots,
			"recent_scans": recent,
		},
	})
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}
