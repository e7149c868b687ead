// Package counter maintains rolling, time-bucketed event counts per
// (profile, event name) pair over a sliding window. Bucket starts are epoch
// milliseconds truncated to the bucket width; buckets older than the window
// are evicted on demand or periodically.
package counter

import (
	"sync"
	"time"

	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/identity"
)

// Defaults per the engine configuration surface.
const (
	DefaultBucketSize = time.Minute
	DefaultWindow     = 24 * time.Hour
)

// Config holds rolling counter settings.
type Config struct {
	// BucketSize is the width of one counter bucket.
	BucketSize time.Duration

	// Window is the default sliding window summed by Count.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.BucketSize <= 0 {
		c.BucketSize = DefaultBucketSize
	}

	if c.Window <= 0 {
		c.Window = DefaultWindow
	}

	return c
}

type seriesKey struct {
	profileID identity.Identifier
	name      string
}

// series holds the bucket map for one (profile, name) pair. Each series has
// its own lock so distinct pairs never contend.
type series struct {
	mu      sync.Mutex
	buckets map[int64]uint64
}

// RollingCounter counts events into fixed-width time buckets.
type RollingCounter struct {
	mu     sync.RWMutex
	series map[seriesKey]*series

	bucketMS int64
	window   time.Duration
	clk      clock.Clock
}

// New creates a RollingCounter with the given configuration and clock.
func New(cfg Config, clk clock.Clock) *RollingCounter {
	cfg = cfg.withDefaults()

	if clk == nil {
		clk = clock.System()
	}

	return &RollingCounter{
		series:   make(map[seriesKey]*series),
		bucketMS: cfg.BucketSize.Milliseconds(),
		window:   cfg.Window,
		clk:      clk,
	}
}

// Window returns the configured default sliding window.
func (c *RollingCounter) Window() time.Duration { return c.window }

// Append adds one to the bucket containing ts for the given profile and
// event name, creating the series on demand.
func (c *RollingCounter) Append(profileID identity.Identifier, name string, ts time.Time) {
	s := c.seriesFor(seriesKey{profileID: profileID, name: name})

	bucket := alignMillis(ts.UnixMilli(), c.bucketMS)

	s.mu.Lock()
	s.buckets[bucket]++
	s.mu.Unlock()
}

// Count sums the buckets whose start is at or after now − window. A zero
// window uses the configured default. Unknown series count as zero.
func (c *RollingCounter) Count(profileID identity.Identifier, name string, window time.Duration) uint64 {
	if window <= 0 {
		window = c.window
	}

	c.mu.RLock()
	s, ok := c.series[seriesKey{profileID: profileID, name: name}]
	c.mu.RUnlock()

	if !ok {
		return 0
	}

	cutoff := c.clk.Now().Add(-window).UnixMilli()

	var total uint64

	s.mu.Lock()
	for start, n := range s.buckets {
		if start >= cutoff {
			total += n
		}
	}
	s.mu.Unlock()

	return total
}

// Evict drops buckets strictly older than now − window across all series,
// removing series that end up empty. A zero window uses the default.
func (c *RollingCounter) Evict(window time.Duration) {
	if window <= 0 {
		window = c.window
	}

	cutoff := c.clk.Now().Add(-window).UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, s := range c.series {
		s.mu.Lock()

		for start := range s.buckets {
			if start < cutoff {
				delete(s.buckets, start)
			}
		}

		empty := len(s.buckets) == 0

		s.mu.Unlock()

		if empty {
			delete(c.series, key)
		}
	}
}

// EvictProfile drops expired buckets for a single profile's series only.
func (c *RollingCounter) EvictProfile(profileID identity.Identifier, window time.Duration) {
	if window <= 0 {
		window = c.window
	}

	cutoff := c.clk.Now().Add(-window).UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, s := range c.series {
		if key.profileID != profileID {
			continue
		}

		s.mu.Lock()

		for start := range s.buckets {
			if start < cutoff {
				delete(s.buckets, start)
			}
		}

		empty := len(s.buckets) == 0

		s.mu.Unlock()

		if empty {
			delete(c.series, key)
		}
	}
}

// seriesFor returns the series for key, creating it under the write lock on
// first use.
func (c *RollingCounter) seriesFor(key seriesKey) *series {
	c.mu.RLock()
	s, ok := c.series[key]
	c.mu.RUnlock()

	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok = c.series[key]; ok {
		return s
	}

	s = &series{buckets: make(map[int64]uint64)}
	c.series[key] = s

	return s
}

// alignMillis truncates an epoch-millisecond timestamp to the bucket width,
// yielding the start of the bucket the timestamp falls in.
func alignMillis(ms, bucketMS int64) int64 {
	return ms - ms%bucketMS
}
