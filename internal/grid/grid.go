// Package grid projects the canonical model onto the warehouse cell
// grid: zone letters A-Z by rows 1-50. The projection is a pure
// function of (robots, scans, now); it holds no state of its own.
package grid

import (
	"strconv"
	"strings"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
)

const (
	// Zones is the fixed zone alphabet, west to east.
	Zones = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// Rows is the number of rows per zone.
	Rows = 50
	// StaleAfter is the age beyond which an otherwise-ok cell needs
	// attention.
	StaleAfter = time.Hour
	// LowBatteryMark is the battery level below which a robot marker
	// turns low-battery.
	LowBatteryMark = 50.0
)

// Cell is a structured grid coordinate. Keeping zone and row separate
// avoids the "A"+"10" vs "A1"+"0" collision a concatenated key invites.
type Cell struct {
	Zone rune
	Row  int
}

// Valid reports whether the cell lies on the fixed grid.
func (c Cell) Valid() bool {
	return strings.ContainsRune(Zones, c.Zone) && c.Row >= 1 && c.Row <= Rows
}

// String renders the display label, e.g. "A12".
func (c Cell) String() string {
	return string(c.Zone) + strconv.Itoa(c.Row)
}

// CellStatus is the display class of one grid cell.
type CellStatus string

const (
	NoData    CellStatus = "no-data"
	OK        CellStatus = "ok"
	Attention CellStatus = "attention"
	Critical  CellStatus = "critical"
)

// MarkerStatus is the display class of a robot marker.
type MarkerStatus string

const (
	MarkerActive     MarkerStatus = "active"
	MarkerLowBattery MarkerStatus = "low-battery"
	MarkerOffline    MarkerStatus = "offline"
)

// CellState is the latest observation of a cell plus its derived
// display status.
type CellState struct {
	Scan   core.Scan
	Status CellStatus
}

// Marker is a robot placed on the grid.
type Marker struct {
	Robot  core.Robot
	Cell   Cell
	Status MarkerStatus
}

// LatestByCell keeps only the latest-by-timestamp scan per cell. The
// cell comes from the scan's own coordinates or, when the scan carries
// none, from the producing robot's current position. Scans that
// resolve to no valid cell are left off the grid; that is not an
// error. Arrival order never matters: ties and older observations
// lose by timestamp comparison alone.
func LatestByCell(robots []core.Robot, scans []core.Scan) map[Cell]core.Scan {
	byID := make(map[string]core.Robot, len(robots))
	for _, r := range robots {
		byID[r.ID] = r
	}
	out := make(map[Cell]core.Scan)
	for _, s := range scans {
		cell, ok := resolveCell(s, byID)
		if !ok {
			continue
		}
		if prev, exists := out[cell]; exists && !s.Time.After(prev.Time) {
			continue
		}
		out[cell] = s
	}
	return out
}

// Statuses derives the display status for every observed cell.
// Unobserved cells are simply absent; callers render them as NoData.
func Statuses(robots []core.Robot, scans []core.Scan, now time.Time) map[Cell]CellState {
	latest := LatestByCell(robots, scans)
	out := make(map[Cell]CellState, len(latest))
	for cell, scan := range latest {
		out[cell] = CellState{Scan: scan, Status: StatusOf(&scan, now)}
	}
	return out
}

// StatusOf classifies one cell. Severity beats staleness: a critical
// scan stays critical no matter how old it is.
func StatusOf(scan *core.Scan, now time.Time) CellStatus {
	if scan == nil {
		return NoData
	}
	status := strings.ToLower(strings.TrimSpace(string(scan.Status)))
	status = strings.ReplaceAll(status, " ", "_")
	if strings.Contains(status, "crit") {
		return Critical
	}
	if strings.Contains(status, "low") {
		return Attention
	}
	if scan.Time.IsZero() {
		return Attention
	}
	if now.Sub(scan.Time) > StaleAfter {
		return Attention
	}
	return OK
}

// Markers places robots on the grid. A robot whose position is off the
// fixed grid is silently excluded from placement but remains a valid
// record everywhere else.
func Markers(robots []core.Robot) []Marker {
	out := make([]Marker, 0, len(robots))
	for _, r := range robots {
		cell, ok := robotCell(r)
		if !ok {
			continue
		}
		out = append(out, Marker{Robot: r, Cell: cell, Status: MarkerStatusOf(r)})
	}
	return out
}

// MarkerStatusOf derives the marker color independently of placement:
// offline wins, then low battery, then active.
func MarkerStatusOf(r core.Robot) MarkerStatus {
	status := strings.ToLower(string(r.Status))
	if strings.Contains(status, "off") {
		return MarkerOffline
	}
	if r.Battery < LowBatteryMark {
		return MarkerLowBattery
	}
	return MarkerActive
}

func resolveCell(s core.Scan, robots map[string]core.Robot) (Cell, bool) {
	if cell, ok := scanCell(s); ok {
		return cell, true
	}
	robot, ok := robots[s.RobotID]
	if !ok {
		return Cell{}, false
	}
	return robotCell(robot)
}

func scanCell(s core.Scan) (Cell, bool) {
	return makeCell(s.Zone, s.Row)
}

func robotCell(r core.Robot) (Cell, bool) {
	return makeCell(r.Zone, r.Row)
}

func makeCell(zone string, row int) (Cell, bool) {
	zone = strings.ToUpper(strings.TrimSpace(zone))
	runes := []rune(zone)
	if len(runes) != 1 {
		return Cell{}, false
	}
	cell := Cell{Zone: runes[0], Row: row}
	return cell, cell.Valid()
}
