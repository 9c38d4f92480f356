// Package alerts keeps the live stack of critical-stock notifications.
// Each alert expires on its own timer unless dismissed first; the
// queue's lifecycle is independent of the dashboard model.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/warewatch/internal/core"
)

// DefaultTTL is how long an alert stays visible unless dismissed.
const DefaultTTL = 10 * time.Second

// Alert is one live notification.
type Alert struct {
	ID        string    `json:"id"`
	Product   string    `json:"product"`
	Zone      string    `json:"zone"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier raises a system-level notification for an alert. A nil or
// permission-denied notifier is fine; alerts still stack in the queue.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// Queue is a self-expiring alert stack. Concurrent alerts accumulate;
// ids never collide.
type Queue struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  []Alert
	timers   map[string]*time.Timer
	notifier Notifier
	closed   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithTTL overrides the per-alert time to live.
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

// WithNotifier raises a system notification for every added alert.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		q.notifier = n
	}
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		ttl:    DefaultTTL,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add turns an inventory alert event into a live alert and schedules
// its expiry. Returns the stored alert.
func (q *Queue) Add(ev core.AlertEvent) Alert {
	alert := Alert{
		ID:        uuid.NewString(),
		Product:   ev.ProductName,
		Zone:      ev.Zone,
		Quantity:  ev.Quantity,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return alert
	}
	q.entries = append(q.entries, alert)
	q.timers[alert.ID] = time.AfterFunc(q.ttl, func() {
		q.Dismiss(alert.ID)
	})
	notifier := q.notifier
	q.mu.Unlock()

	if notifier != nil {
		notifier.Notify(context.Background(), alert)
	}
	return alert
}

// Dismiss removes an alert by id, cancelling its expiry timer. Unknown
// ids (already expired, already dismissed) are no-ops.
func (q *Queue) Dismiss(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	for i, alert := range q.entries {
		if alert.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

// Active returns the live alerts, oldest first.
func (q *Queue) Active() []Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Alert, len(q.entries))
	copy(out, q.entries)
	return out
}

// Close cancels every pending expiry timer and drops all alerts.
// Timers that already fired become no-ops. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.entries = nil
}
