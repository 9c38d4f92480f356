// Package emulator drives fake inventory robots against a running
// server, for development and demos. Each robot walks the warehouse
// shelf by shelf, scans products with a weighted stock distribution,
// and posts passes through the ingest API.
package emulator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/core"
)

const (
	shelvesPerRow   = 10
	maxRow          = 50
	rechargeBelow   = 20.0
	defaultInterval = 15 * time.Second
	minInterval     = 5 * time.Second
)

type product struct {
	ID   string
	Name string
}

// Catalog matches the fixed set of products real scanners report.
var catalog = []product{
	{"TEL-4567", "Router RT-AC68U"},
	{"TEL-8901", "Modem DSL-2640U"},
	{"TEL-2345", "Switch SG-108"},
	{"TEL-6789", "IP Phone T46S"},
	{"TEL-3456", "Cable UTP Cat6"},
	{"TEL-7890", "Patch cord 2m"},
	{"TEL-5678", "Router Keenetic"},
	{"TEL-9012", "Switch D-Link 24-port"},
}

// Publisher is the slice of the API client a robot needs.
type Publisher interface {
	PublishRobotData(ctx context.Context, data core.RobotData) error
}

// Robot is one emulated scanner unit.
type Robot struct {
	ID  string
	api Publisher
	rng *rand.Rand

	battery float64
	zone    rune
	row     int
	shelf   int

	scanCount  int
	errorCount int
}

// NewRobot places a robot at a random warehouse cell with a charged
// battery.
func NewRobot(id string, api Publisher, rng *rand.Rand) *Robot {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Robot{
		ID:      id,
		api:     api,
		rng:     rng,
		battery: float64(80 + rng.Intn(21)),
		zone:    rune('A' + rng.Intn(26)),
		row:     1 + rng.Intn(maxRow),
		shelf:   1 + rng.Intn(shelvesPerRow),
	}
}

// Scans returns how many passes were accepted by the server.
func (r *Robot) Scans() int { return r.scanCount }

// Errors returns how many publishes failed.
func (r *Robot) Errors() int { return r.errorCount }

// Battery returns the current charge percentage.
func (r *Robot) Battery() float64 { return r.battery }

// Position returns the robot's cell label and shelf, e.g. "C17-4".
func (r *Robot) Position() string {
	return fmt.Sprintf("%c%d-%d", r.zone, r.row, r.shelf)
}

// Step performs one cycle: usually a scan pass posted to the server,
// occasionally a silent move.
func (r *Robot) Step(ctx context.Context, now time.Time) {
	if r.rng.Float64() < 0.8 {
		r.publish(ctx, now)
	}
	r.move()
}

func (r *Robot) publish(ctx context.Context, now time.Time) {
	data := core.RobotData{
		RobotID:   r.ID,
		Timestamp: now,
		Location: core.Location{
			Zone:  string(r.zone),
			Row:   r.row,
			Shelf: r.shelf,
		},
		ScanResults:  r.generateScans(),
		BatteryLevel: round1(r.battery),
	}
	if err := r.api.PublishRobotData(ctx, data); err != nil {
		r.errorCount++
		log.Printf("emulator: %s publish failed: %v", r.ID, err)
		return
	}
	r.scanCount++
	for _, s := range data.ScanResults {
		if s.Status == core.ScanCritical {
			log.Printf("emulator: %s CRITICAL %s (%d left) at %c%d", r.ID, s.ProductName, s.Quantity, r.zone, r.row)
		}
	}
}

// generateScans picks one product (sometimes two) and rolls its stock
// level: 10% critical, 15% low, 75% ok.
func (r *Robot) generateScans() []core.ScanResult {
	n := 1
	if r.rng.Float64() >= 0.7 {
		n = 2
	}
	picked := r.rng.Perm(len(catalog))[:n]
	out := make([]core.ScanResult, 0, n)
	for _, idx := range picked {
		p := catalog[idx]
		var quantity int
		var status core.ScanStatus
		switch roll := r.rng.Float64(); {
		case roll < 0.1:
			quantity = 1 + r.rng.Intn(5)
			status = core.ScanCritical
		case roll < 0.25:
			quantity = 6 + r.rng.Intn(10)
			status = core.ScanLowStock
		default:
			quantity = 16 + r.rng.Intn(85)
			status = core.ScanOK
		}
		out = append(out, core.ScanResult{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    quantity,
			Status:      status,
		})
	}
	return out
}

// move advances shelf, then row, then zone, each wrapping around, and
// drains the battery. A drained robot snaps back to full charge as if
// it visited a dock.
func (r *Robot) move() {
	if r.rng.Float64() < 0.8 {
		r.shelf++
		if r.shelf > shelvesPerRow {
			r.shelf = 1
			if r.rng.Float64() < 0.6 {
				r.row++
				if r.row > maxRow {
					r.row = 1
					r.zone++
					if r.zone > 'Z' {
						r.zone = 'A'
					}
				}
			}
		}
	}

	r.battery -= 0.1 + r.rng.Float64()*0.4
	if r.battery < rechargeBelow {
		log.Printf("emulator: %s battery low, recharging", r.ID)
		r.battery = 100
	}
}

// Fleet runs a group of robots on a shared cadence.
type Fleet struct {
	robots   []*Robot
	interval time.Duration
}

type FleetOption func(*Fleet)

func WithInterval(d time.Duration) FleetOption {
	return func(f *Fleet) {
		if d > 0 {
			f.interval = d
		}
	}
}

// NewFleet creates count robots with ids RB-001, RB-002, ...
func NewFleet(count int, api Publisher, opts ...FleetOption) *Fleet {
	if count < 1 {
		count = 1
	}
	f := &Fleet{interval: defaultInterval}
	for _, opt := range opts {
		opt(f)
	}
	for i := 1; i <= count; i++ {
		f.robots = append(f.robots, NewRobot(fmt.Sprintf("RB-%03d", i), api, nil))
	}
	return f
}

// Robots exposes the fleet members for stats reporting.
func (f *Fleet) Robots() []*Robot { return f.robots }

// Run drives every robot until ctx is cancelled. Each robot gets its
// own goroutine and a jittered interval so passes do not arrive in
// lockstep.
func (f *Fleet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range f.robots {
		wg.Add(1)
		go func(r *Robot) {
			defer wg.Done()
			f.runRobot(ctx, r)
		}(r)
		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
	}
	wg.Wait()
}

func (f *Fleet) runRobot(ctx context.Context, r *Robot) {
	log.Printf("emulator: %s starting at %s", r.ID, r.Position())
	for {
		r.Step(ctx, time.Now().UTC())

		jitter := time.Duration(r.rng.Intn(7)-3) * time.Second
		wait := f.interval + jitter
		if wait < minInterval {
			wait = minInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

var _ Publisher = (*client.Client)(nil)
