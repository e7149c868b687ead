package segment

import (
	"context"
	"time"

	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/observability"
	"github.com/luminal-data/luminal/pkg/profile"
)

// Counter supplies rolling event counts to the power_user rule.
type Counter interface {
	Count(profileID identity.Identifier, name string, window time.Duration) uint64
}

// Engine evaluates the built-in segment rules against profile snapshots.
type Engine struct {
	cfg     Config
	counter Counter
	sink    Sink
	clk     clock.Clock
	metrics *observability.EngineMetrics
}

// NewEngine creates a segment engine publishing transitions to sink.
// A nil sink discards transitions; a nil metrics receiver records nothing.
func NewEngine(cfg Config, counter Counter, sink Sink, clk clock.Clock, metrics *observability.EngineMetrics) *Engine {
	if clk == nil {
		clk = clock.System()
	}

	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}

	return &Engine{
		cfg:     cfg.withDefaults(),
		counter: counter,
		sink:    sink,
		clk:     clk,
		metrics: metrics,
	}
}

// ruleOrder fixes the evaluation and emission order of the built-in rules
// so transitions for one profile are deterministic.
var ruleOrder = []string{SegmentProPlan, SegmentPowerUser, SegmentReengage}

// EvaluateAndEmit recomputes membership for every rule, emits one ENTER or
// EXIT per changed segment, and returns the new membership set. Held
// membership emits nothing; the caller persists the returned set.
func (e *Engine) EvaluateAndEmit(ctx context.Context, snap profile.Snapshot) map[string]struct{} {
	now := e.clk.Now()

	membership := make(map[string]struct{}, len(ruleOrder))

	for _, name := range ruleOrder {
		if e.evaluate(name, snap, now) {
			membership[name] = struct{}{}
		}
	}

	e.metrics.SegmentEvaluations(ctx, int64(len(ruleOrder)))

	for _, name := range ruleOrder {
		_, isMember := membership[name]

		wasMember := snap.InSegment(name)
		if isMember == wasMember {
			continue
		}

		action := ActionEnter
		if !isMember {
			action = ActionExit
		}

		e.sink.Publish(Event{
			ProfileID: snap.ProfileID,
			Segment:   name,
			Action:    action,
			Ts:        now,
		})
		e.metrics.SegmentTransition(ctx, name, isMember)
	}

	return membership
}

func (e *Engine) evaluate(name string, snap profile.Snapshot, now time.Time) bool {
	switch name {
	case SegmentProPlan:
		return snap.TraitValue(TraitPlan) == planPro
	case SegmentPowerUser:
		if e.counter == nil {
			return false
		}

		return e.counter.Count(snap.ProfileID, EventFeatureUsed, e.cfg.PowerUserWindow) >= e.cfg.PowerUserThreshold
	case SegmentReengage:
		if snap.LastSeen.IsZero() {
			return false
		}

		return now.Sub(snap.LastSeen) >= e.cfg.ReengageInactivity
	default:
		return false
	}
}
