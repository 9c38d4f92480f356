package core

import "time"

// LowBatteryThreshold marks a robot as low_battery at or below this level.
const LowBatteryThreshold = 20.0

// StatusOf derives the operational status shown on the dashboard.
// Battery wins over liveness: a robot on the charger is low_battery,
// not offline.
func StatusOf(battery float64, active bool) RobotStatus {
	if battery <= LowBatteryThreshold {
		return RobotLowBattery
	}
	if !active {
		return RobotOffline
	}
	return RobotActive
}

// ComputeStats recomputes dashboard aggregates from the full robot set
// and the bounded recent-scan window. CheckedToday is cumulative and
// owned by the caller; critical stock counts the window only, so scans
// that rolled out of it no longer count.
func ComputeStats(robots []Robot, recent []Scan, checkedToday int) Stats {
	stats := Stats{
		TotalRobots:  len(robots),
		CheckedToday: checkedToday,
	}
	var batterySum float64
	for _, r := range robots {
		if r.Status != RobotOffline {
			stats.ActiveRobots++
		}
		batterySum += r.Battery
	}
	if len(robots) > 0 {
		stats.AvgBattery = int(batterySum/float64(len(robots)) + 0.5)
	}
	for _, s := range recent {
		if s.Status == ScanCritical {
			stats.CriticalStock++
		}
	}
	return stats
}

// SameDay reports whether two instants fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
