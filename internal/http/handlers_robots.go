package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
)

// handleRobotData ingests one scan pass from a robot: upserts the
// robot record, appends each scan to history, and broadcasts
// robot_update / new_scan / inventory_alert to connected dashboards.
func (s *Service) handleRobotData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var data core.RobotData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(data.RobotID) == "" || data.Timestamp.IsZero() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	robot := core.Robot{
		ID:         data.RobotID,
		Battery:    data.BatteryLevel,
		Zone:       data.Location.Zone,
		Row:        data.Location.Row,
		Shelf:      data.Location.Shelf,
		Status:     core.StatusOf(data.BatteryLevel, true),
		LastUpdate: data.Timestamp.UTC(),
	}
	if err := s.store.UpsertRobot(robot); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.broadcast(envelope(core.StreamRobotUpdate, robot))

	for _, result := range data.ScanResults {
		if result.ProductID == "" {
			continue
		}
		scan := core.Scan{
			Time:      data.Timestamp.UTC(),
			RobotID:   robot.ID,
			Zone:      robot.Zone,
			Row:       robot.Row,
			Product:   result.ProductName,
			ProductID: result.ProductID,
			Quantity:  result.Quantity,
			Status:    result.Status,
		}
		if err := s.store.AppendScan(scan); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.broadcast(envelope(core.StreamNewScan, scan))

		if result.Status == core.ScanCritical {
			s.broadcast(envelope(core.StreamInventoryAlert, core.AlertEvent{
				ProductID:   result.ProductID,
				ProductName: result.ProductName,
				Quantity:    result.Quantity,
				Zone:        robot.Zone,
				Timestamp:   data.Timestamp.UTC(),
			}))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}

func envelope(t core.StreamType, data any) map[string]any {
	return map[string]any{"type": t, "data": data}
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
