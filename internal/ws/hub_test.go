package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/warewatch/internal/core"
	"github.com/mistakeknot/warewatch/internal/storage"
)

type frame struct {
	Type core.StreamType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(hub.Handler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
		srv.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestInitialDataIsFirstFrame(t *testing.T) {
	store := storage.NewInMemory()
	store.UpsertRobot(core.Robot{ID: "RB-001", Battery: 90, Zone: "A", Row: 1, Status: core.RobotActive, LastUpdate: time.Now().UTC()})
	store.AppendScan(core.Scan{Time: time.Now().UTC(), RobotID: "RB-001", Zone: "A", Row: 1, Product: "Router", Quantity: 40, Status: core.ScanOK})

	hub := NewHub(store)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	f := readFrame(t, conn)
	if f.Type != core.StreamInitialData {
		t.Fatalf("expected initial_data first, got %q", f.Type)
	}
	var payload struct {
		Robots      []core.Robot `json:"robots"`
		RecentScans []core.Scan  `json:"recent_scans"`
	}
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Robots) != 1 || len(payload.RecentScans) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	hub := NewHub(storage.NewInMemory())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readFrame(t, conn) // initial_data

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, map[string]core.StreamType{"type": core.StreamPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != core.StreamPong {
		t.Fatalf("expected pong, got %q", f.Type)
	}
}

func TestBroadcastReachesConnectedClients(t *testing.T) {
	hub := NewHub(storage.NewInMemory())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readFrame(t, conn) // initial_data

	// Broadcast needs the connection registered; it is added right
	// after the initial frame is sent.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.Broadcast(map[string]any{"type": core.StreamRobotUpdate, "data": core.Robot{ID: "RB-001"}})
		if len(hub.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	f := readFrame(t, conn)
	if f.Type != core.StreamRobotUpdate {
		t.Fatalf("expected robot_update, got %q", f.Type)
	}
}

func TestMalformedClientFrameIgnored(t *testing.T) {
	hub := NewHub(storage.NewInMemory())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readFrame(t, conn) // initial_data

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Connection survives: a ping still gets its pong.
	if err := wsjson.Write(ctx, conn, map[string]core.StreamType{"type": core.StreamPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != core.StreamPong {
		t.Fatalf("expected pong after malformed frame, got %q", f.Type)
	}
}
