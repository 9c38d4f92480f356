// Package reconcile owns the canonical in-memory dashboard model and
// the merge rules that keep it consistent under replayed, duplicated,
// and out-of-order stream events.
package reconcile

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/core"
)

// RecentScanLimit bounds the chronological scan log kept for display.
const RecentScanLimit = 20

// scanKey identifies the stream of observations a scan belongs to.
// Stale-write rejection is per key: a scan whose time is not after the
// last recorded time for its key is discarded, which also makes exact
// replays no-ops.
type scanKey struct {
	RobotID   string
	ProductID string
}

// Model is a materialized copy of the canonical state, safe for
// consumers to hold across further mutations.
type Model struct {
	Robots      []core.Robot
	RecentScans []core.Scan
	Stats       core.Stats
	UpdatedAt   time.Time
}

// AlertSink receives inventory alerts forwarded by the reconciler.
type AlertSink func(core.AlertEvent)

// Reconciler applies stream envelopes to the canonical model. All
// mutation happens through Apply; consumers only ever see copies.
type Reconciler struct {
	mu           sync.RWMutex
	robots       map[string]core.Robot
	recent       []core.Scan
	lastScan     map[scanKey]time.Time
	checkedToday int
	stats        core.Stats
	updatedAt    time.Time

	baselined bool
	paused    bool

	alerts AlertSink
	now    func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAlertSink forwards inventory_alert payloads to sink.
func WithAlertSink(sink AlertSink) Option {
	return func(r *Reconciler) {
		r.alerts = sink
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		robots:   make(map[string]core.Robot),
		lastScan: make(map[scanKey]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply merges one stream envelope into the model. It never fails:
// unknown types, stale writes, and undecodable payloads are defined
// no-ops. While paused, every envelope is a no-op and is not replayed
// on resume.
func (r *Reconciler) Apply(env client.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return
	}

	switch env.Type {
	case core.StreamInitialData:
		data, err := env.AsInitialData()
		if err != nil {
			log.Printf("reconcile: bad initial_data dropped: %v", err)
			return
		}
		r.reset(data.Robots, data.RecentScans)

	case core.StreamRobotUpdate:
		if !r.baselined {
			return
		}
		robot, err := env.AsRobot()
		if err != nil {
			log.Printf("reconcile: bad robot_update dropped: %v", err)
			return
		}
		r.applyRobot(robot)

	case core.StreamNewScan:
		if !r.baselined {
			return
		}
		scan, err := env.AsScan()
		if err != nil {
			log.Printf("reconcile: bad new_scan dropped: %v", err)
			return
		}
		r.applyScan(scan)

	case core.StreamInventoryAlert:
		alert, err := env.AsAlert()
		if err != nil {
			log.Printf("reconcile: bad inventory_alert dropped: %v", err)
			return
		}
		if r.alerts != nil {
			r.alerts(alert)
		}

	case core.StreamPong:
		// Liveness echo; nothing to merge.

	default:
		log.Printf("reconcile: unknown event type %q ignored", env.Type)
	}
}

// Seed installs an HTTP snapshot as the baseline, exactly as an
// initial_data envelope would.
func (r *Reconciler) Seed(snap client.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return
	}
	r.reset(snap.Robots, snap.RecentScans)
	if snap.Statistics.CheckedToday > r.checkedToday {
		r.checkedToday = snap.Statistics.CheckedToday
		r.recompute()
	}
}

// AwaitBaseline re-arms the baseline gate. Incremental events are
// dropped until the next initial_data lands, so a reconnect can never
// apply increments ahead of the fresh baseline.
func (r *Reconciler) AwaitBaseline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselined = false
}

// Pause freezes the visible model. Events received while paused are
// dropped outright, alerts included.
func (r *Reconciler) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume re-enables application starting with the next event. Nothing
// skipped while paused is replayed.
func (r *Reconciler) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// Paused reports whether model application is suspended.
func (r *Reconciler) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// View returns a deep copy of the materialized model.
func (r *Reconciler) View() Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := Model{
		Robots:      make([]core.Robot, 0, len(r.robots)),
		RecentScans: make([]core.Scan, len(r.recent)),
		Stats:       r.stats,
		UpdatedAt:   r.updatedAt,
	}
	for _, robot := range r.robots {
		m.Robots = append(m.Robots, robot)
	}
	sortRobots(m.Robots)
	copy(m.RecentScans, r.recent)
	return m
}

// reset replaces the whole model unconditionally; initial_data is a
// reset, never a merge, regardless of timestamps.
func (r *Reconciler) reset(robots []core.Robot, scans []core.Scan) {
	r.robots = make(map[string]core.Robot, len(robots))
	for _, robot := range robots {
		r.robots[robot.ID] = robot
	}
	if len(scans) > RecentScanLimit {
		scans = scans[:RecentScanLimit]
	}
	r.recent = append([]core.Scan(nil), scans...)
	r.lastScan = make(map[scanKey]time.Time, len(scans))
	for _, s := range scans {
		key := scanKey{RobotID: s.RobotID, ProductID: s.ProductID}
		if s.Time.After(r.lastScan[key]) {
			r.lastScan[key] = s.Time
		}
	}
	now := r.now()
	r.checkedToday = 0
	for _, s := range scans {
		if core.SameDay(s.Time, now) {
			r.checkedToday++
		}
	}
	r.baselined = true
	r.recompute()
}

// applyRobot upserts by id with greatest-timestamp-wins: an update that
// is not newer than the stored record is a stale write and is dropped.
// An equal timestamp is a replay, so replays are no-ops.
func (r *Reconciler) applyRobot(robot core.Robot) {
	if existing, ok := r.robots[robot.ID]; ok {
		if !robot.LastUpdate.After(existing.LastUpdate) {
			return
		}
	}
	r.robots[robot.ID] = robot
	r.recompute()
}

func (r *Reconciler) applyScan(scan core.Scan) {
	key := scanKey{RobotID: scan.RobotID, ProductID: scan.ProductID}
	if last, ok := r.lastScan[key]; ok && !scan.Time.After(last) {
		return
	}
	r.lastScan[key] = scan.Time

	r.recent = append([]core.Scan{scan}, r.recent...)
	if len(r.recent) > RecentScanLimit {
		r.recent = r.recent[:RecentScanLimit]
	}
	r.checkedToday++
	r.recompute()
}

func (r *Reconciler) recompute() {
	r.stats = core.ComputeStats(r.robotSlice(), r.recent, r.checkedToday)
	r.updatedAt = r.now()
}

func (r *Reconciler) robotSlice() []core.Robot {
	out := make([]core.Robot, 0, len(r.robots))
	for _, robot := range r.robots {
		out = append(out, robot)
	}
	return out
}

func sortRobots(robots []core.Robot) {
	sort.Slice(robots, func(i, j int) bool {
		return robots[i].ID < robots[j].ID
	})
}
