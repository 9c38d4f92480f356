package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestNextDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{9, 30 * time.Second},
		{62, 30 * time.Second}, // shift overflow clamps to max
	}
	for _, c := range cases {
		if got := NextDelay(base, max, c.attempts); got != c.want {
			t.Errorf("NextDelay(attempts=%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

// wsServer accepts dashboard stream connections and pushes one
// envelope per connection.
func wsServer(t *testing.T, onConn func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/dashboard" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		onConn(r.Context(), conn)
	}))
}

func TestStreamDeliversEnvelopes(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		wsjson.Write(ctx, conn, map[string]any{
			"type": StreamInitialData,
			"data": map[string]any{"robots": []Robot{{ID: "RB-001"}}},
		})
		// Hold the connection open until the client goes away.
		conn.Read(ctx)
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, WithBackoff(10*time.Millisecond, 50*time.Millisecond, 3))
	defer c.Close()
	c.Connect(context.Background())

	select {
	case env := <-c.Messages():
		if env.Type != StreamInitialData {
			t.Fatalf("expected initial_data, got %q", env.Type)
		}
		data, err := env.AsInitialData()
		if err != nil {
			t.Fatalf("decode initial_data: %v", err)
		}
		if len(data.Robots) != 1 || data.Robots[0].ID != "RB-001" {
			t.Fatalf("unexpected payload: %+v", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no envelope delivered")
	}

	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %q", c.State())
	}
	if c.LastMessage() == nil {
		t.Fatalf("last message not recorded")
	}
}

func TestStreamMalformedFrameDoesNotKillConnection(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		wsjson.Write(ctx, conn, map[string]any{"type": StreamPong})
		conn.Read(ctx)
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, WithBackoff(10*time.Millisecond, 50*time.Millisecond, 3))
	defer c.Close()
	c.Connect(context.Background())

	select {
	case env := <-c.Messages():
		if env.Type != StreamPong {
			t.Fatalf("expected the frame after the malformed one, got %q", env.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("connection did not survive malformed frame")
	}
}

func TestStreamReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		n := conns.Add(1)
		wsjson.Write(ctx, conn, map[string]any{"type": StreamPong})
		if n == 1 {
			// First connection dies immediately after one frame.
			conn.Close(websocket.StatusInternalError, "gone")
			return
		}
		conn.Read(ctx)
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, WithBackoff(10*time.Millisecond, 50*time.Millisecond, 5))
	defer c.Close()
	c.Connect(context.Background())

	got := 0
	deadline := time.After(5 * time.Second)
	for got < 2 {
		select {
		case <-c.Messages():
			got++
		case <-deadline:
			t.Fatalf("expected a frame from the second connection, got %d", got)
		}
	}
	if conns.Load() < 2 {
		t.Fatalf("client never reconnected")
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected after reconnect, got %q", c.State())
	}
	// The attempt counter resets on a successful open.
	if c.Attempts() != 0 {
		t.Fatalf("attempts not reset: %d", c.Attempts())
	}
}

func TestStreamGivesUpAtAttemptCeiling(t *testing.T) {
	c := NewStreamClient("http://127.0.0.1:1", WithBackoff(time.Millisecond, 5*time.Millisecond, 2))
	c.Connect(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-c.Messages():
			if !ok {
				if c.State() != StateDisconnected {
					t.Fatalf("expected disconnected, got %q", c.State())
				}
				c.Close()
				return
			}
		case <-deadline:
			t.Fatalf("client never gave up")
		}
	}
}

func TestStreamCloseBeforeConnect(t *testing.T) {
	c := NewStreamClient("http://127.0.0.1:1")
	c.Close()
	c.Close()

	if _, ok := <-c.Messages(); ok {
		t.Fatalf("messages channel should be closed")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %q", c.State())
	}
}

func TestStreamCloseTearsDownPendingReconnect(t *testing.T) {
	c := NewStreamClient("http://127.0.0.1:1", WithBackoff(time.Hour, time.Hour, 10))
	c.Connect(context.Background())

	// Wait for the first dial to fail and the backoff timer to arm.
	deadline := time.Now().Add(3 * time.Second)
	for c.State() != StateReconnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("close blocked on a pending reconnect timer")
	}
}

func TestStreamSendWithoutConnection(t *testing.T) {
	c := NewStreamClient("http://127.0.0.1:1")
	if c.Send(context.Background(), map[string]string{"type": "ping"}) {
		t.Fatalf("send without connection reported success")
	}
	c.Close()
}

func TestStreamConnectHookPrecedesDelivery(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		wsjson.Write(ctx, conn, map[string]any{"type": StreamInitialData})
		wsjson.Write(ctx, conn, map[string]any{"type": StreamNewScan})
		conn.Read(ctx)
	})
	defer srv.Close()

	var mu sync.Mutex
	var order []string
	c := NewStreamClient(srv.URL,
		WithBackoff(10*time.Millisecond, 50*time.Millisecond, 3),
		WithConnectHook(func() {
			mu.Lock()
			order = append(order, "hook")
			mu.Unlock()
		}))
	defer c.Close()
	c.Connect(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case env := <-c.Messages():
			mu.Lock()
			order = append(order, string(env.Type))
			mu.Unlock()
		case <-time.After(3 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"hook", "initial_data", "new_scan"}
	if len(order) != len(want) {
		t.Fatalf("unexpected sequence: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook did not precede delivery: %v", order)
		}
	}
}

func TestStreamConnectHookFiresEveryConnection(t *testing.T) {
	var conns atomic.Int32
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.Close(websocket.StatusInternalError, "gone")
			return
		}
		conn.Read(ctx)
	})
	defer srv.Close()

	var hooks atomic.Int32
	c := NewStreamClient(srv.URL,
		WithBackoff(10*time.Millisecond, 50*time.Millisecond, 5),
		WithConnectHook(func() { hooks.Add(1) }))
	defer c.Close()
	c.Connect(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for hooks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hooks.Load() < 2 {
		t.Fatalf("hook fired %d time(s), want one per connection", hooks.Load())
	}
}

func TestStreamStatesFeed(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, WithBackoff(10*time.Millisecond, 50*time.Millisecond, 3))
	c.Connect(context.Background())

	select {
	case state := <-c.States():
		if state != StateConnected {
			t.Fatalf("expected first transition to connected, got %q", state)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no state transition delivered")
	}
	c.Close()
}
