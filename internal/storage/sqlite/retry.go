package sqlite

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig shapes the backoff used when sqlite reports a locked
// database. The ingest handler and the sweeper share one write lock,
// so a burst of robot posts can briefly hold it across a sweep.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // fraction of the delay added as random jitter
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnDBLock runs fn, retrying with jittered exponential backoff for
// as long as the failure is a lock conflict. Any other error returns
// immediately.
func RetryOnDBLock(fn func() error) error {
	return retryLocked(DefaultRetryConfig(), fn, time.Sleep)
}

func retryLocked(cfg RetryConfig, fn func() error, sleep func(time.Duration)) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isDBLocked(err) || attempt == cfg.MaxRetries {
			return err
		}
		delay := cfg.BaseDelay << attempt
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleep(delay + jitter)
	}
}

func isDBLocked(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
