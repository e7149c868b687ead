// Package pipeline wires the identity graph, profile store, rolling counter,
// segment engine, and event processor into one streaming engine: ingest
// resolves identity and buffers, the watermark drain mutates profile state
// and evaluates segments.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luminal-data/luminal/internal/bus"
	"github.com/luminal-data/luminal/internal/processor"
	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/counter"
	"github.com/luminal-data/luminal/pkg/event"
	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/observability"
	"github.com/luminal-data/luminal/pkg/profile"
	"github.com/luminal-data/luminal/pkg/segment"
)

// Config aggregates the tunables of the engine's components.
type Config struct {
	// Processor configures buffering, watermark, and dedup.
	Processor processor.Config

	// Segments configures the built-in segment rules.
	Segments segment.Config

	// Counter configures the rolling counter's buckets and window.
	Counter counter.Config

	// SubscriberBuf is the per-subscriber buffer for segment transitions.
	SubscriberBuf int
}

// Engine is the assembled streaming core.
type Engine struct {
	graph    *identity.Graph
	store    *profile.Store
	counts   *counter.RollingCounter
	segments *segment.Engine
	proc     *processor.Processor
	hub      *bus.Hub[segment.Event]

	logger  *slog.Logger
	metrics *observability.EngineMetrics
}

// ProfileSummary pairs a profile snapshot with its rolling feature-usage
// count for reporting.
type ProfileSummary struct {
	Profile          profile.Snapshot
	FeatureUsedCount uint64
}

// New assembles an engine. A nil clock means wall time; a nil logger means
// slog's default; a nil metrics receiver records nothing.
func New(cfg Config, clk clock.Clock, logger *slog.Logger, metrics *observability.EngineMetrics) *Engine {
	if clk == nil {
		clk = clock.System()
	}

	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		graph:   identity.NewGraph(),
		store:   profile.NewStore(),
		counts:  counter.New(cfg.Counter, clk),
		hub:     bus.NewHub[segment.Event](cfg.SubscriberBuf),
		logger:  logger,
		metrics: metrics,
	}

	sink := segment.SinkFunc(func(ev segment.Event) { e.hub.Publish(ev) })
	e.segments = segment.NewEngine(cfg.Segments, e.counts, sink, clk, metrics)
	e.proc = processor.New(cfg.Processor, e.process, clk, logger, metrics)

	return e
}

// Start launches the watermark ticker.
func (e *Engine) Start(ctx context.Context) {
	e.proc.Start(ctx)
}

// Stop flushes every buffered event through the handler and closes the
// segment hub.
func (e *Engine) Stop(ctx context.Context) {
	e.proc.Stop(ctx)
	e.hub.Close()
}

// Ingest validates ev, resolves its canonical profile id, and submits it to
// the processor. IDENTIFY and ALIAS events with multiple identifiers merge
// those identifiers in the graph.
func (e *Engine) Ingest(ctx context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		e.metrics.EventInvalid(ctx)
		e.logger.WarnContext(ctx, "rejecting invalid event", "event_id", ev.EventID, "error", err)

		return fmt.Errorf("validate event: %w", err)
	}

	raws := ev.RawIdentifiers()

	if (ev.Type == event.TypeIdentify || ev.Type == event.TypeAlias) && len(raws) >= 2 {
		for i := 1; i < len(raws); i++ {
			e.graph.Union(raws[0], raws[i])
		}
	}

	canonical := e.graph.CanonicalIDFor(raws)

	return e.proc.Submit(ctx, canonical, ev)
}

// Run ingests events from ch until it closes or ctx is cancelled. Submit
// rejections are reflected in the processor's counters, not returned.
func (e *Engine) Run(ctx context.Context, ch <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			_ = e.Ingest(ctx, ev)
		}
	}
}

// Subscribe returns a subscription delivering segment transitions.
func (e *Engine) Subscribe() *bus.Subscription[segment.Event] {
	return e.hub.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (e *Engine) Unsubscribe(s *bus.Subscription[segment.Event]) {
	e.hub.Unsubscribe(s)
}

// Tick advances the watermark once. Exposed for deterministic tests driving
// a mock clock.
func (e *Engine) Tick(ctx context.Context) {
	e.proc.Tick(ctx)
}

// Stats returns the processor's counters.
func (e *Engine) Stats() processor.Stats {
	return e.proc.Stats()
}

// Profile returns the snapshot for the canonical id resolved from raw,
// if one exists.
func (e *Engine) Profile(raw string) (profile.Snapshot, bool) {
	return e.store.Snapshot(e.graph.Find(raw))
}

// Profiles returns the number of materialized profiles.
func (e *Engine) Profiles() int {
	return e.store.Len()
}

// TopProfiles returns up to n profiles by recency, each with its rolling
// "Feature Used" count. n <= 0 returns all.
func (e *Engine) TopProfiles(n int) []ProfileSummary {
	snaps := e.store.TopN(n)

	summaries := make([]ProfileSummary, 0, len(snaps))
	for _, snap := range snaps {
		summaries = append(summaries, ProfileSummary{
			Profile:          snap,
			FeatureUsedCount: e.counts.Count(snap.ProfileID, segment.EventFeatureUsed, 0),
		})
	}

	return summaries
}

// process applies one drained event to profile state. It runs on the
// processor's drain goroutines, serialized per profile.
func (e *Engine) process(ctx context.Context, profileID identity.Identifier, ev event.Event) {
	// Unions since submit may have moved the root.
	canonical := e.graph.CanonicalIDFor(ev.RawIdentifiers())
	if canonical == "" {
		canonical = profileID
	}

	e.store.MergeIdentifiers(canonical, identifiersOf(ev))

	if len(ev.Traits) > 0 {
		e.store.MergeTraits(canonical, ev.Traits, ev.Ts)
	}

	e.store.UpdateLastSeen(canonical, ev.Ts)

	if ev.Type == event.TypeTrack && ev.Name != "" {
		e.counts.Append(canonical, ev.Name, ev.Ts)
	}

	snap := e.store.GetOrCreate(canonical)
	next := e.segments.EvaluateAndEmit(ctx, snap)
	e.store.UpdateSegments(canonical, next)
}

func identifiersOf(ev event.Event) profile.Identifiers {
	var ids profile.Identifiers

	if ev.UserID != "" {
		ids.UserIDs = append(ids.UserIDs, ev.UserID)
	}

	if ev.Email != "" {
		ids.Emails = append(ids.Emails, ev.Email)
	}

	if ev.AnonymousID != "" {
		ids.AnonymousIDs = append(ids.AnonymousIDs, ev.AnonymousID)
	}

	return ids
}
