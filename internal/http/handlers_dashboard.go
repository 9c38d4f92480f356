package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
)

const recentScanLimit = 20

type dashboardResponse struct {
	Robots      []core.Robot `json:"robots"`
	RecentScans []core.Scan  `json:"recent_scans"`
	Statistics  core.Stats   `json:"statistics"`
}

// handleDashboardCurrent serves the one-shot full-state snapshot the
// monitoring client baselines from.
func (s *Service) handleDashboardCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.buildSnapshot(time.Now())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// handleZoneStatus serves the latest scan per warehouse cell, keyed by
// "A12"-style labels. Unscanned cells are absent.
func (s *Service) handleZoneStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cells, err := s.store.LatestByCell()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cells)
}

func (s *Service) buildSnapshot(now time.Time) (dashboardResponse, error) {
	robots, err := s.store.ListRobots()
	if err != nil {
		return dashboardResponse{}, err
	}
	recent, err := s.store.RecentScans(recentScanLimit)
	if err != nil {
		return dashboardResponse{}, err
	}
	dayStart := startOfDay(now)
	checked, err := s.store.CheckedSince(dayStart)
	if err != nil {
		return dashboardResponse{}, err
	}
	critical, err := s.store.CriticalSince(dayStart)
	if err != nil {
		return dashboardResponse{}, err
	}

	stats := core.ComputeStats(robots, nil, checked)
	stats.CriticalStock = critical
	if robots == nil {
		robots = []core.Robot{}
	}
	if recent == nil {
		recent = []core.Scan{}
	}
	return dashboardResponse{Robots: robots, RecentScans: recent, Statistics: stats}, nil
}
