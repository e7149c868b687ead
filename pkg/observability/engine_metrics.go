package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEventsBuffered  = "cdp.events.buffered"
	metricEventsProcessed = "cdp.events.processed"
	metricEventsLate      = "cdp.events.late"
	metricEventsDropped   = "cdp.events.dropped"
	metricEventsDedupHits = "cdp.events.dedup_hits"
	metricEventsInvalid   = "cdp.events.invalid"
	metricSegmentsEnter   = "cdp.segments.enter"
	metricSegmentsExit    = "cdp.segments.exit"
	metricSegmentsEvals   = "cdp.segments.evaluations"
	metricWatermarkLagMS  = "cdp.watermark.lag_ms"

	attrSegment = "segment"
	attrReason  = "reason"
)

// EngineMetrics holds the OTel instruments for the event-processing engine.
// All record methods are safe on a nil receiver (no-op).
type EngineMetrics struct {
	eventsBuffered  metric.Int64UpDownCounter
	eventsProcessed metric.Int64Counter
	eventsLate      metric.Int64Counter
	eventsDropped   metric.Int64Counter
	eventsDedupHits metric.Int64Counter
	eventsInvalid   metric.Int64Counter
	segmentsEnter   metric.Int64Counter
	segmentsExit    metric.Int64Counter
	segmentsEvals   metric.Int64Counter
	watermarkLag    metric.Int64Gauge
}

// NewEngineMetrics creates engine metric instruments from the given meter.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	buffered, err := mt.Int64UpDownCounter(metricEventsBuffered,
		metric.WithDescription("Events currently buffered awaiting the watermark"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsBuffered, err)
	}

	processed, err := mt.Int64Counter(metricEventsProcessed,
		metric.WithDescription("Events drained and handled"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsProcessed, err)
	}

	late, err := mt.Int64Counter(metricEventsLate,
		metric.WithDescription("Events that arrived after the watermark but within grace"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsLate, err)
	}

	dropped, err := mt.Int64Counter(metricEventsDropped,
		metric.WithDescription("Events dropped by lateness or shutdown"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsDropped, err)
	}

	dedupHits, err := mt.Int64Counter(metricEventsDedupHits,
		metric.WithDescription("Events suppressed as duplicates"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsDedupHits, err)
	}

	invalid, err := mt.Int64Counter(metricEventsInvalid,
		metric.WithDescription("Events rejected by validation"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsInvalid, err)
	}

	enter, err := mt.Int64Counter(metricSegmentsEnter,
		metric.WithDescription("Segment ENTER transitions emitted"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSegmentsEnter, err)
	}

	exit, err := mt.Int64Counter(metricSegmentsExit,
		metric.WithDescription("Segment EXIT transitions emitted"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSegmentsExit, err)
	}

	evals, err := mt.Int64Counter(metricSegmentsEvals,
		metric.WithDescription("Segment rule evaluations performed"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSegmentsEvals, err)
	}

	lag, err := mt.Int64Gauge(metricWatermarkLagMS,
		metric.WithDescription("Lag between the watermark and the oldest buffered event"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricWatermarkLagMS, err)
	}

	return &EngineMetrics{
		eventsBuffered:  buffered,
		eventsProcessed: processed,
		eventsLate:      late,
		eventsDropped:   dropped,
		eventsDedupHits: dedupHits,
		eventsInvalid:   invalid,
		segmentsEnter:   enter,
		segmentsExit:    exit,
		segmentsEvals:   evals,
		watermarkLag:    lag,
	}, nil
}

// EventBuffered adjusts the buffered-events gauge by delta.
func (em *EngineMetrics) EventBuffered(ctx context.Context, delta int64) {
	if em == nil {
		return
	}

	em.eventsBuffered.Add(ctx, delta)
}

// EventProcessed records one drained-and-handled event.
func (em *EngineMetrics) EventProcessed(ctx context.Context) {
	if em == nil {
		return
	}

	em.eventsProcessed.Add(ctx, 1)
}

// EventLate records one late-but-buffered event.
func (em *EngineMetrics) EventLate(ctx context.Context) {
	if em == nil {
		return
	}

	em.eventsLate.Add(ctx, 1)
}

// EventDropped records one dropped event with the drop reason.
func (em *EngineMetrics) EventDropped(ctx context.Context, reason string) {
	if em == nil {
		return
	}

	em.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// DedupHit records one suppressed duplicate.
func (em *EngineMetrics) DedupHit(ctx context.Context) {
	if em == nil {
		return
	}

	em.eventsDedupHits.Add(ctx, 1)
}

// EventInvalid records one validation rejection.
func (em *EngineMetrics) EventInvalid(ctx context.Context) {
	if em == nil {
		return
	}

	em.eventsInvalid.Add(ctx, 1)
}

// SegmentTransition records an ENTER or EXIT transition for a segment.
func (em *EngineMetrics) SegmentTransition(ctx context.Context, segment string, enter bool) {
	if em == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrSegment, segment))

	if enter {
		em.segmentsEnter.Add(ctx, 1, attrs)
	} else {
		em.segmentsExit.Add(ctx, 1, attrs)
	}
}

// SegmentEvaluations records n segment rule evaluations.
func (em *EngineMetrics) SegmentEvaluations(ctx context.Context, n int64) {
	if em == nil {
		return
	}

	em.segmentsEvals.Add(ctx, n)
}

// WatermarkLag records the current watermark lag in milliseconds.
func (em *EngineMetrics) WatermarkLag(ctx context.Context, lagMS int64) {
	if em == nil {
		return
	}

	em.watermarkLag.Record(ctx, lagMS)
}
