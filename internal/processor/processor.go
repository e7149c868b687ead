// Package processor buffers events per profile behind a watermark and drains
// them to a handler in timestamp order. Events older than the grace period
// are dropped, duplicate event ids are suppressed for a TTL, and per-profile
// drains never run concurrently.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/event"
	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/observability"
)

// Submit and lifecycle errors.
var (
	// ErrStopped is returned by Submit after Stop has begun.
	ErrStopped = errors.New("processor stopped")

	// ErrTooLate is returned when an event's timestamp is older than the
	// grace period.
	ErrTooLate = errors.New("event older than grace period")

	// ErrDuplicate is returned when an event id was already accepted
	// within the dedup TTL.
	ErrDuplicate = errors.New("duplicate event id")
)

// Drop reasons reported on the dropped-events metric.
const (
	dropReasonLate       = "late"
	dropReasonOutOfOrder = "out_of_order"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultWindowSize     = 5 * time.Second
	DefaultGracePeriod    = 2 * time.Minute
	DefaultDedupTTL       = 10 * time.Minute
	DefaultTickerInterval = time.Second
	DefaultMaxBufferLen   = 4096
)

// dedupSweepEvery bounds how often expired dedup entries and idle buffers
// are purged during ticks.
const dedupSweepEvery = time.Minute

// Handler consumes one drained event for a profile. Handlers for different
// profiles may run concurrently; for one profile they are serialized.
type Handler func(ctx context.Context, profileID identity.Identifier, ev event.Event)

// Config holds the processor's timing knobs.
type Config struct {
	// WindowSize is how far the watermark trails the clock. Events are
	// held at least this long before draining.
	WindowSize time.Duration

	// GracePeriod is the maximum lateness accepted at submit time.
	GracePeriod time.Duration

	// DedupTTL is how long an accepted event id suppresses duplicates.
	DedupTTL time.Duration

	// TickerInterval is the watermark advance cadence under Start.
	TickerInterval time.Duration

	// MaxBufferLen forces an early drain when one profile's buffer
	// reaches this many events.
	MaxBufferLen int
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}

	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}

	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}

	if c.TickerInterval <= 0 {
		c.TickerInterval = DefaultTickerInterval
	}

	if c.MaxBufferLen <= 0 {
		c.MaxBufferLen = DefaultMaxBufferLen
	}

	return c
}

// Stats is a snapshot of the processor's counters.
type Stats struct {
	Buffered  int64
	Processed uint64
	Late      uint64
	Dropped   uint64
	DedupHits uint64
}

type profileBuffer struct {
	mu          sync.Mutex
	heap        eventHeap
	lastDrained time.Time
	draining    bool
	evicted     bool
}

// Processor implements the watermark buffer.
type Processor struct {
	cfg     Config
	handler Handler
	clk     clock.Clock
	logger  *slog.Logger
	metrics *observability.EngineMetrics

	mu      sync.RWMutex
	buffers map[identity.Identifier]*profileBuffer

	dedupMu   sync.Mutex
	dedup     map[string]time.Time
	lastSweep time.Time

	buffered  atomic.Int64
	processed atomic.Uint64
	late      atomic.Uint64
	dropped   atomic.Uint64
	dedupHits atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}
}

// New creates a processor dispatching drained events to handler.
func New(
	cfg Config,
	handler Handler,
	clk clock.Clock,
	logger *slog.Logger,
	metrics *observability.EngineMetrics,
) *Processor {
	if clk == nil {
		clk = clock.System()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		cfg:       cfg.withDefaults(),
		handler:   handler,
		clk:       clk,
		logger:    logger,
		metrics:   metrics,
		buffers:   make(map[identity.Identifier]*profileBuffer),
		dedup:     make(map[string]time.Time),
		lastSweep: clk.Now(),
		done:      make(chan struct{}),
	}
}

// Submit buffers ev under profileID. It never blocks on the handler. Events
// older than the grace period and duplicate event ids are rejected.
func (p *Processor) Submit(ctx context.Context, profileID identity.Identifier, ev event.Event) error {
	if p.stopped.Load() {
		return ErrStopped
	}

	now := p.clk.Now()

	if ev.Ts.Before(now.Add(-p.cfg.GracePeriod)) {
		p.dropped.Add(1)
		p.metrics.EventDropped(ctx, dropReasonLate)
		p.logger.WarnContext(ctx, "dropping event beyond grace period",
			"event_id", ev.EventID, "profile_id", string(profileID), "ts", ev.Ts)

		return ErrTooLate
	}

	if !p.recordEventID(ev.EventID, now) {
		p.dedupHits.Add(1)
		p.metrics.DedupHit(ctx)

		return ErrDuplicate
	}

	if ev.Ts.Before(now.Add(-p.cfg.WindowSize)) {
		p.late.Add(1)
		p.metrics.EventLate(ctx)
	}

	var (
		pb   *profileBuffer
		full bool
	)

	// Retry if the sweep evicted the buffer between lookup and push.
	for {
		pb = p.bufferFor(profileID)

		pb.mu.Lock()

		if pb.evicted {
			pb.mu.Unlock()

			continue
		}

		pb.heap.push(ev)
		full = len(pb.heap) >= p.cfg.MaxBufferLen
		pb.mu.Unlock()

		break
	}

	p.buffered.Add(1)
	p.metrics.EventBuffered(ctx, 1)

	if full {
		// Relieve the oversized buffer without waiting for the ticker.
		p.tryDrain(ctx, profileID, pb, now)
	}

	return nil
}

// Tick advances the watermark to now-windowSize and starts drains for every
// profile whose earliest event is ready. Exported so tests can drive the
// watermark with a mock clock.
func (p *Processor) Tick(ctx context.Context) {
	now := p.clk.Now()
	watermark := now.Add(-p.cfg.WindowSize)

	p.mu.RLock()

	var oldest time.Time

	targets := make(map[identity.Identifier]*profileBuffer, len(p.buffers))

	for id, pb := range p.buffers {
		pb.mu.Lock()

		if head, ok := pb.heap.peek(); ok {
			if oldest.IsZero() || head.Ts.Before(oldest) {
				oldest = head.Ts
			}

			if !head.Ts.After(watermark) {
				targets[id] = pb
			}
		}

		pb.mu.Unlock()
	}

	p.mu.RUnlock()

	lagMS := int64(0)
	if !oldest.IsZero() && now.After(oldest) {
		lagMS = now.Sub(oldest).Milliseconds()
	}

	p.metrics.WatermarkLag(ctx, lagMS)

	for id, pb := range targets {
		p.tryDrain(ctx, id, pb, watermark)
	}

	p.sweep(now)
}

// Start runs the watermark ticker until Stop is called.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.cfg.TickerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
}

// Stop rejects further submits, stops the ticker, and flushes every buffer
// so no accepted event is lost. It returns after all handler invocations
// complete.
func (p *Processor) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.done)
	})

	// Repeat flush passes until no buffer holds events. A drain already in
	// flight with an older watermark may leave a tail behind one pass.
	for {
		p.wg.Wait()

		p.mu.RLock()

		remaining := false

		for id, pb := range p.buffers {
			pb.mu.Lock()
			nonEmpty := len(pb.heap) > 0
			pb.mu.Unlock()

			if nonEmpty {
				remaining = true

				p.tryDrain(ctx, id, pb, flushHorizon)
			}
		}

		p.mu.RUnlock()

		if !remaining {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Buffered:  p.buffered.Load(),
		Processed: p.processed.Load(),
		Late:      p.late.Load(),
		Dropped:   p.dropped.Load(),
		DedupHits: p.dedupHits.Load(),
	}
}

// flushHorizon is a watermark far enough in the future to drain everything.
var flushHorizon = time.Unix(1<<42, 0)

// recordEventID reports whether id is new within the TTL, recording it when
// it is.
func (p *Processor) recordEventID(id string, now time.Time) bool {
	p.dedupMu.Lock()
	defer p.dedupMu.Unlock()

	if seen, ok := p.dedup[id]; ok && now.Sub(seen) < p.cfg.DedupTTL {
		return false
	}

	p.dedup[id] = now

	return true
}

func (p *Processor) bufferFor(profileID identity.Identifier) *profileBuffer {
	p.mu.RLock()
	pb, ok := p.buffers[profileID]
	p.mu.RUnlock()

	if ok {
		return pb
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pb, ok = p.buffers[profileID]; ok {
		return pb
	}

	pb = &profileBuffer{}
	p.buffers[profileID] = pb

	return pb
}

// tryDrain starts a drain goroutine for pb unless one is already running.
func (p *Processor) tryDrain(ctx context.Context, profileID identity.Identifier, pb *profileBuffer, watermark time.Time) {
	pb.mu.Lock()

	if pb.draining {
		pb.mu.Unlock()

		return
	}

	pb.draining = true
	pb.mu.Unlock()

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.drain(ctx, profileID, pb, watermark)
	}()
}

// drain pops ready events in ascending ts order and dispatches each to the
// handler. The buffer lock is held only around heap operations, never
// across a handler call. lastDrained advances once per batch so equal
// timestamps within a batch drain together.
func (p *Processor) drain(ctx context.Context, profileID identity.Identifier, pb *profileBuffer, watermark time.Time) {
	var (
		batchMax   time.Time
		batchFloor time.Time
	)

	for {
		pb.mu.Lock()

		head, ok := pb.heap.peek()
		if !ok || head.Ts.After(watermark) {
			if batchMax.After(pb.lastDrained) {
				pb.lastDrained = batchMax
			}

			pb.draining = false
			pb.mu.Unlock()

			return
		}

		ev := pb.heap.pop()
		floor := pb.lastDrained
		pb.mu.Unlock()

		p.buffered.Add(-1)
		p.metrics.EventBuffered(ctx, -1)

		// An event submitted mid-drain can sort before what the handler
		// already saw. Dropping it preserves per-profile ts order.
		if !ev.Ts.After(floor) || ev.Ts.Before(batchFloor) {
			p.dropped.Add(1)
			p.metrics.EventDropped(ctx, dropReasonOutOfOrder)
			p.logger.WarnContext(ctx, "dropping event behind drained suffix",
				"event_id", ev.EventID, "profile_id", string(profileID), "ts", ev.Ts)

			continue
		}

		p.dispatch(ctx, profileID, ev)
		p.processed.Add(1)
		p.metrics.EventProcessed(ctx)

		batchFloor = ev.Ts

		if ev.Ts.After(batchMax) {
			batchMax = ev.Ts
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, profileID identity.Identifier, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "handler panic",
				"event_id", ev.EventID, "profile_id", string(profileID), "panic", r)
		}
	}()

	p.handler(ctx, profileID, ev)
}

// sweep purges expired dedup entries and evicts idle empty buffers. Buffers
// keep their lastDrained guard for a grace period after emptying so stale
// arrivals still hit the ordering check.
func (p *Processor) sweep(now time.Time) {
	p.dedupMu.Lock()

	if now.Sub(p.lastSweep) < dedupSweepEvery {
		p.dedupMu.Unlock()

		return
	}

	p.lastSweep = now

	for id, seen := range p.dedup {
		if now.Sub(seen) >= p.cfg.DedupTTL {
			delete(p.dedup, id)
		}
	}

	p.dedupMu.Unlock()

	p.mu.Lock()

	for id, pb := range p.buffers {
		pb.mu.Lock()

		if len(pb.heap) == 0 && !pb.draining && now.Sub(pb.lastDrained) > p.cfg.GracePeriod {
			pb.evicted = true

			delete(p.buffers, id)
		}

		pb.mu.Unlock()
	}

	p.mu.Unlock()
}
