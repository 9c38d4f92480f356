package sqlite

import (
	"context"
	"log"
	"time"

	"github.com/mistakeknot/warewatch/internal/core"
)

// Broadcaster is the interface for emitting events to dashboard
// websocket clients.
type Broadcaster interface {
	Broadcast(event any)
}

// Sweeper runs a background goroutine that keeps the store honest:
// robots that stopped reporting are marked offline, and scan history
// older than the retention window is pruned.
type Sweeper struct {
	store     *Store
	bus       Broadcaster
	interval  time.Duration
	grace     time.Duration // silence before a robot counts as offline
	retention time.Duration // scan history kept on disk
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(store *Store, bus Broadcaster, interval, grace, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		bus:       bus,
		interval:  interval,
		grace:     grace,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(time.Now().UTC())
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(now time.Time) {
	marked, err := sw.store.MarkOfflineBefore(now.Add(-sw.grace), now)
	if err != nil {
		log.Printf("sweeper: %v", err)
	} else if marked > 0 {
		log.Printf("sweeper: marked %d silent robot(s) offline", marked)
		sw.broadcastOffline()
	}

	pruned, err := sw.store.PruneScansBefore(now.Add(-sw.retention))
	if err != nil {
		log.Printf("sweeper: %v", err)
	} else if pruned > 0 {
		log.Printf("sweeper: pruned %d expired scan(s)", pruned)
	}
}

// broadcastOffline pushes a robot_update for every offline robot so
// connected dashboards see the transition without waiting for a
// snapshot. The rows carry the sweep time as last_update, which keeps
// the update strictly newer than what clients last saw.
func (sw *Sweeper) broadcastOffline() {
	if sw.bus == nil {
		return
	}
	robots, err := sw.store.ListRobots()
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	for _, r := range robots {
		if r.Status != core.RobotOffline {
			continue
		}
		sw.bus.Broadcast(map[string]any{
			"type": core.StreamRobotUpdate,
			"data": r,
		})
	}
}
