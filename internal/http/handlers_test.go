package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
	"github.com/mistakeknot/warewatch/internal/storage"
)

type recordingBus struct {
	mu     sync.Mutex
	events []map[string]any
}

func (b *recordingBus) Broadcast(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		b.events = append(b.events, m)
	}
}

func (b *recordingBus) types() []core.StreamType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.StreamType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e["type"].(core.StreamType))
	}
	return out
}

func newTestService() (*Service, *recordingBus, http.Handler) {
	bus := &recordingBus{}
	svc := NewService(storage.NewInMemory()).WithBroadcaster(bus)
	return svc, bus, NewRouter(svc, nil, nil)
}

func postRobotData(t *testing.T, handler http.Handler, data core.RobotData) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/robots/data", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func robotData(status core.ScanStatus) core.RobotData {
	return core.RobotData{
		RobotID:      "RB-001",
		Timestamp:    time.Now().UTC(),
		Location:     core.Location{Zone: "C", Row: 17, Shelf: 4},
		BatteryLevel: 64,
		ScanResults: []core.ScanResult{
			{ProductID: "TEL-4567", ProductName: "Router RT-AC68U", Quantity: 3, Status: status},
		},
	}
}

func TestRobotDataIngestAndBroadcast(t *testing.T) {
	_, bus, handler := newTestService()

	rec := postRobotData(t, handler, robotData(core.ScanOK))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	types := bus.types()
	if len(types) != 2 || types[0] != core.StreamRobotUpdate || types[1] != core.StreamNewScan {
		t.Fatalf("unexpected broadcasts: %v", types)
	}
}

func TestRobotDataCriticalEmitsAlert(t *testing.T) {
	_, bus, handler := newTestService()

	postRobotData(t, handler, robotData(core.ScanCritical))

	types := bus.types()
	if len(types) != 3 || types[2] != core.StreamInventoryAlert {
		t.Fatalf("expected inventory_alert after critical scan, got %v", types)
	}
}

func TestRobotDataLowBatteryStatus(t *testing.T) {
	svc, _, handler := newTestService()

	data := robotData(core.ScanOK)
	data.BatteryLevel = 15
	postRobotData(t, handler, data)

	robots, _ := svc.store.ListRobots()
	if len(robots) != 1 || robots[0].Status != core.RobotLowBattery {
		t.Fatalf("expected low_battery status, got %+v", robots)
	}
}

func TestRobotDataValidation(t *testing.T) {
	_, _, handler := newTestService()

	missing := robotData(core.ScanOK)
	missing.RobotID = ""
	if rec := postRobotData(t, handler, missing); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing robot_id: expected 400, got %d", rec.Code)
	}

	noTime := robotData(core.ScanOK)
	noTime.Timestamp = time.Time{}
	if rec := postRobotData(t, handler, noTime); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing timestamp: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/robots/data", bytes.NewReader([]byte("{bad")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/robots/data", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: expected 405, got %d", rec.Code)
	}
}

func TestDashboardCurrentSnapshot(t *testing.T) {
	_, _, handler := newTestService()

	postRobotData(t, handler, robotData(core.ScanCritical))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/current", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snap dashboardResponse
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Robots) != 1 || len(snap.RecentScans) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	stats := snap.Statistics
	if stats.TotalRobots != 1 || stats.CheckedToday != 1 || stats.CriticalStock != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDashboardCurrentEmptyStore(t *testing.T) {
	_, _, handler := newTestService()

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/current", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var snap dashboardResponse
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	// Arrays, never nulls, so clients can iterate without checks.
	if snap.Robots == nil || snap.RecentScans == nil {
		t.Fatalf("expected empty arrays, got %+v", snap)
	}
}

func TestZoneStatus(t *testing.T) {
	_, _, handler := newTestService()

	postRobotData(t, handler, robotData(core.ScanLowStock))

	req := httptest.NewRequest(http.MethodGet, "/api/zones/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var cells map[string]core.Scan
	if err := json.NewDecoder(rec.Body).Decode(&cells); err != nil {
		t.Fatalf("decode cells: %v", err)
	}
	cell, ok := cells["C17"]
	if !ok {
		t.Fatalf("expected C17 cell, got %v", cells)
	}
	if cell.Status != core.ScanLowStock {
		t.Fatalf("unexpected cell: %+v", cell)
	}
}
