package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
)

// cellLabel renders the "A12"-style label the zone status API keys by.
func cellLabel(zone string, row int) string {
	return fmt.Sprintf("%s%d", zone, row)
}

// Store is the dev server's persistence surface: the robot registry
// plus the append-only scan history the dashboard aggregates over.
type Store interface {
	UpsertRobot(robot core.Robot) error
	ListRobots() ([]core.Robot, error)
	// MarkOfflineBefore flips robots silent since cutoff to offline and
	// stamps their last_update with observed, so the transition is
	// strictly newer than the state dashboards already hold.
	MarkOfflineBefore(cutoff, observed time.Time) (int, error)

	AppendScan(scan core.Scan) error
	RecentScans(limit int) ([]core.Scan, error)
	CheckedSince(since time.Time) (int, error)
	CriticalSince(since time.Time) (int, error)
	LatestByCell() (map[string]core.Scan, error)
	PruneScansBefore(cutoff time.Time) (int, error)
}

// InMemory is a minimal in-memory store for tests.
type InMemory struct {
	mu     sync.Mutex
	robots map[string]core.Robot
	scans  []core.Scan
}

func NewInMemory() *InMemory {
	return &InMemory{robots: make(map[string]core.Robot)}
}

func (m *InMemory) UpsertRobot(robot core.Robot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.robots[robot.ID] = robot
	return nil
}

func (m *InMemory) ListRobots() ([]core.Robot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Robot, 0, len(m.robots))
	for _, r := range m.robots {
		out = append(out, r)
	}
	// Sort by id for stable listings
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) MarkOfflineBefore(cutoff, observed time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := 0
	for id, r := range m.robots {
		if r.Status != core.RobotOffline && r.LastUpdate.Before(cutoff) {
			r.Status = core.RobotOffline
			r.LastUpdate = observed
			m.robots[id] = r
			marked++
		}
	}
	return marked, nil
}

func (m *InMemory) AppendScan(scan core.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans = append(m.scans, scan)
	return nil
}

func (m *InMemory) RecentScans(limit int) ([]core.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := make([]core.Scan, len(m.scans))
	copy(sorted, m.scans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *InMemory) CheckedSince(since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.scans {
		if !s.Time.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *InMemory) CriticalSince(since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.scans {
		if !s.Time.Before(since) && s.Status == core.ScanCritical {
			count++
		}
	}
	return count, nil
}

func (m *InMemory) LatestByCell() (map[string]core.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.Scan)
	for _, s := range m.scans {
		if s.Zone == "" || s.Row == 0 {
			continue
		}
		key := cellLabel(s.Zone, s.Row)
		if prev, ok := out[key]; ok && !s.Time.After(prev.Time) {
			continue
		}
		out[key] = s
	}
	return out, nil
}

func (m *InMemory) PruneScansBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.scans[:0]
	pruned := 0
	for _, s := range m.scans {
		if s.Time.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, s)
	}
	m.scans = kept
	return pruned, nil
}
