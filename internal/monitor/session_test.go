package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/core"
)

// fakeServer serves the snapshot endpoint and a dashboard stream that
// sends initial_data first, then whatever the test pushes.
type fakeServer struct {
	*httptest.Server
	snapshot client.Snapshot
	events   chan any
}

func newFakeServer(t *testing.T, snapshot client.Snapshot) *fakeServer {
	t.Helper()
	fs := &fakeServer{snapshot: snapshot, events: make(chan any, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dashboard/current", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(fs.snapshot)
	})
	mux.HandleFunc("/ws/dashboard", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		wsjson.Write(ctx, conn, map[string]any{
			"type": core.StreamInitialData,
			"data": map[string]any{
				"robots":       fs.snapshot.Robots,
				"recent_scans": fs.snapshot.RecentScans,
			},
		})
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-fs.events:
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	})
	fs.Server = httptest.NewServer(mux)
	return fs
}

func (fs *fakeServer) push(typ core.StreamType, data any) {
	fs.events <- map[string]any{"type": typ, "data": data}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSession(srvURL string) *Session {
	return New(Config{
		BaseURL: srvURL,
		StreamOptions: []client.StreamOption{
			client.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 3),
		},
		AlertTTL: time.Minute,
	})
}

func TestSessionStartUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := testSession(srv.URL)
	defer s.Close()

	err := s.Start(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSessionSeedsAndStreamsIncrements(t *testing.T) {
	fs := newFakeServer(t, client.Snapshot{
		Robots: []core.Robot{
			{ID: "RB-001", Battery: 90, Zone: "A", Row: 1, Status: core.RobotActive, LastUpdate: time.Now().UTC()},
		},
		Statistics: core.Stats{TotalRobots: 1, ActiveRobots: 1, CheckedToday: 5},
	})
	defer fs.Close()

	s := testSession(fs.URL)
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, "stream baseline", func() bool {
		return s.ConnState() == client.StateConnected && len(s.View().Robots) == 1
	})

	fs.push(core.StreamNewScan, core.Scan{
		Time:      time.Now().UTC(),
		RobotID:   "RB-001",
		Zone:      "B",
		Row:       7,
		Product:   "Router RT-AC68U",
		ProductID: "TEL-4567",
		Quantity:  3,
		Status:    core.ScanCritical,
	})

	waitFor(t, "scan applied", func() bool {
		return len(s.View().RecentScans) == 1
	})
	if got := s.View().Stats.CriticalStock; got != 1 {
		t.Fatalf("expected critical stock 1, got %d", got)
	}
}

func TestSessionAppliesScanArrivingRightAfterBaseline(t *testing.T) {
	fs := newFakeServer(t, client.Snapshot{})
	defer fs.Close()

	// Queued before the session starts, so the server writes the scan
	// immediately behind initial_data on the same connection.
	fs.push(core.StreamNewScan, core.Scan{
		Time:      time.Now().UTC(),
		RobotID:   "RB-001",
		Zone:      "A",
		Row:       3,
		Product:   "Switch SG-108",
		ProductID: "TEL-2345",
		Quantity:  12,
		Status:    core.ScanLowStock,
	})

	s := testSession(fs.URL)
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, "back-to-back scan applied", func() bool {
		return len(s.View().RecentScans) == 1
	})
	if got := s.View().Stats.CheckedToday; got != 1 {
		t.Fatalf("expected checked today 1, got %d", got)
	}
}

func TestSessionForwardsAlerts(t *testing.T) {
	fs := newFakeServer(t, client.Snapshot{})
	defer fs.Close()

	s := testSession(fs.URL)
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "connection", func() bool { return s.ConnState() == client.StateConnected })

	fs.push(core.StreamInventoryAlert, core.AlertEvent{
		ProductID:   "TEL-4567",
		ProductName: "Router RT-AC68U",
		Quantity:    2,
		Zone:        "C",
		Timestamp:   time.Now().UTC(),
	})

	waitFor(t, "alert", func() bool { return len(s.Alerts()) == 1 })
	alert := s.Alerts()[0]
	if alert.Product != "Router RT-AC68U" || alert.Zone != "C" {
		t.Fatalf("unexpected alert: %+v", alert)
	}

	s.Dismiss(alert.ID)
	if len(s.Alerts()) != 0 {
		t.Fatalf("dismiss did not remove the alert")
	}
}

func TestSessionPause(t *testing.T) {
	fs := newFakeServer(t, client.Snapshot{})
	defer fs.Close()

	s := testSession(fs.URL)
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "connection", func() bool { return s.ConnState() == client.StateConnected })

	s.Pause()
	if !s.Paused() {
		t.Fatalf("expected paused")
	}
	fs.push(core.StreamNewScan, core.Scan{
		Time: time.Now().UTC(), RobotID: "RB-001", Zone: "A", Row: 1,
		Product: "Modem", ProductID: "TEL-8901", Quantity: 9, Status: core.ScanLowStock,
	})
	// Give the event time to arrive and be dropped.
	time.Sleep(100 * time.Millisecond)
	if len(s.View().RecentScans) != 0 {
		t.Fatalf("scan applied while paused")
	}

	s.Resume()
	fs.push(core.StreamNewScan, core.Scan{
		Time: time.Now().UTC(), RobotID: "RB-001", Zone: "A", Row: 1,
		Product: "Modem", ProductID: "TEL-8901", Quantity: 9, Status: core.ScanLowStock,
	})
	waitFor(t, "scan after resume", func() bool { return len(s.View().RecentScans) == 1 })
}

func TestSessionCloseIsCleanAndIdempotent(t *testing.T) {
	fs := newFakeServer(t, client.Snapshot{})
	defer fs.Close()

	s := testSession(fs.URL)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "connection", func() bool { return s.ConnState() == client.StateConnected })

	done := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("close hung")
	}
	if s.ConnState() != client.StateDisconnected {
		t.Fatalf("expected disconnected after close, got %q", s.ConnState())
	}
}

func TestSessionToleratesSnapshotOutage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dashboard/current", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/ws/dashboard", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		wsjson.Write(ctx, conn, map[string]any{
			"type": core.StreamInitialData,
			"data": map[string]any{"robots": []core.Robot{}, "recent_scans": []core.Scan{}},
		})
		conn.Read(ctx)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := testSession(srv.URL)
	defer s.Close()

	// A transient snapshot failure is not fatal; the stream baseline
	// takes over.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start should tolerate snapshot outage: %v", err)
	}
	waitFor(t, "stream baseline", func() bool {
		return s.ConnState() == client.StateConnected
	})
}
