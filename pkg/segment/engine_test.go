package segment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/counter"
	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/profile"
	"github.com/luminal-data/luminal/pkg/segment"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const profileA = identity.Identifier("user:u-1")

type captureSink struct {
	events []segment.Event
}

func (s *captureSink) Publish(ev segment.Event) { s.events = append(s.events, ev) }

func newEngine(t *testing.T) (*segment.Engine, *counter.RollingCounter, *captureSink, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock(base)
	cnt := counter.New(counter.Config{BucketSize: time.Minute, Window: 24 * time.Hour}, clk)
	sink := &captureSink{}
	eng := segment.NewEngine(segment.Config{}, cnt, sink, clk, nil)

	return eng, cnt, sink, clk
}

func snapshotWith(traits map[string]any, lastSeen time.Time, segments ...string) profile.Snapshot {
	traitMap := make(map[string]profile.Trait, len(traits))
	for name, v := range traits {
		traitMap[name] = profile.Trait{Value: v, UpdatedAt: lastSeen}
	}

	segSet := make(map[string]struct{}, len(segments))
	for _, s := range segments {
		segSet[s] = struct{}{}
	}

	return profile.Snapshot{
		ProfileID: profileA,
		Traits:    traitMap,
		LastSeen:  lastSeen,
		Segments:  segSet,
	}
}

func TestProPlanEnter(t *testing.T) {
	t.Parallel()

	eng, _, sink, _ := newEngine(t)

	got := eng.EvaluateAndEmit(context.Background(), snapshotWith(map[string]any{"plan": "pro"}, base))

	assert.Contains(t, got, segment.SegmentProPlan)
	require.Len(t, sink.events, 1)
	assert.Equal(t, segment.ActionEnter, sink.events[0].Action)
	assert.Equal(t, segment.SegmentProPlan, sink.events[0].Segment)
	assert.Equal(t, base, sink.events[0].Ts, "transition timestamps are processing time")
}

func TestHeldMembershipEmitsNothing(t *testing.T) {
	t.Parallel()

	eng, _, sink, _ := newEngine(t)

	snap := snapshotWith(map[string]any{"plan": "pro"}, base, segment.SegmentProPlan)

	got := eng.EvaluateAndEmit(context.Background(), snap)
	assert.Contains(t, got, segment.SegmentProPlan)
	assert.Empty(t, sink.events)
}

func TestProPlanExitOnDowngrade(t *testing.T) {
	t.Parallel()

	eng, _, sink, _ := newEngine(t)

	snap := snapshotWith(map[string]any{"plan": "basic"}, base, segment.SegmentProPlan)

	got := eng.EvaluateAndEmit(context.Background(), snap)
	assert.NotContains(t, got, segment.SegmentProPlan)
	require.Len(t, sink.events, 1)
	assert.Equal(t, segment.ActionExit, sink.events[0].Action)
}

func TestPowerUserThreshold(t *testing.T) {
	t.Parallel()

	eng, cnt, sink, _ := newEngine(t)

	for i := range 4 {
		cnt.Append(profileA, segment.EventFeatureUsed, base.Add(-time.Duration(i)*time.Minute))
	}

	got := eng.EvaluateAndEmit(context.Background(), snapshotWith(nil, base))
	assert.NotContains(t, got, segment.SegmentPowerUser)
	assert.Empty(t, sink.events)

	cnt.Append(profileA, segment.EventFeatureUsed, base)

	got = eng.EvaluateAndEmit(context.Background(), snapshotWith(nil, base))
	assert.Contains(t, got, segment.SegmentPowerUser)
	require.Len(t, sink.events, 1)
	assert.Equal(t, segment.ActionEnter, sink.events[0].Action)
}

func TestPowerUserExitWhenWindowSlides(t *testing.T) {
	t.Parallel()

	eng, cnt, sink, clk := newEngine(t)

	for i := range 5 {
		cnt.Append(profileA, segment.EventFeatureUsed, base.Add(-time.Duration(i)*time.Minute))
	}

	got := eng.EvaluateAndEmit(context.Background(), snapshotWith(nil, base))
	require.Contains(t, got, segment.SegmentPowerUser)

	// 24h+1m later the counts fall outside the window; membership lapses.
	clk.Advance(24*time.Hour + time.Minute)

	snap := snapshotWith(nil, base, segment.SegmentPowerUser)

	got = eng.EvaluateAndEmit(context.Background(), snap)
	assert.NotContains(t, got, segment.SegmentPowerUser)

	exits := 0

	for _, ev := range sink.events {
		if ev.Segment == segment.SegmentPowerUser && ev.Action == segment.ActionExit {
			exits++
		}
	}

	assert.Equal(t, 1, exits)
}

func TestReengageRequiresPriorObservation(t *testing.T) {
	t.Parallel()

	eng, _, sink, _ := newEngine(t)

	got := eng.EvaluateAndEmit(context.Background(), snapshotWith(nil, time.Time{}))
	assert.NotContains(t, got, segment.SegmentReengage)
	assert.Empty(t, sink.events)
}

func TestReengageEnterAfterInactivity(t *testing.T) {
	t.Parallel()

	eng, _, sink, clk := newEngine(t)

	snap := snapshotWith(nil, base)

	got := eng.EvaluateAndEmit(context.Background(), snap)
	assert.NotContains(t, got, segment.SegmentReengage)

	clk.Advance(10 * time.Minute)

	got = eng.EvaluateAndEmit(context.Background(), snap)
	assert.Contains(t, got, segment.SegmentReengage)
	require.Len(t, sink.events, 1)
	assert.Equal(t, segment.SegmentReengage, sink.events[0].Segment)
	assert.Equal(t, segment.ActionEnter, sink.events[0].Action)
}

func TestTransitionsAlternate(t *testing.T) {
	t.Parallel()

	eng, _, sink, _ := newEngine(t)

	// Flip the plan trait back and forth; each profile+segment stream must
	// strictly alternate ENTER, EXIT, ENTER, ...
	current := map[string]struct{}{}

	plans := []string{"pro", "basic", "pro", "pro", "basic", "basic", "pro"}
	for _, plan := range plans {
		snap := snapshotWith(map[string]any{"plan": plan}, base)
		snap.Segments = current
		current = eng.EvaluateAndEmit(context.Background(), snap)
	}

	require.NotEmpty(t, sink.events)

	want := segment.ActionEnter

	for _, ev := range sink.events {
		require.Equal(t, segment.SegmentProPlan, ev.Segment)
		require.Equal(t, want, ev.Action)

		if want == segment.ActionEnter {
			want = segment.ActionExit
		} else {
			want = segment.ActionEnter
		}
	}
}

func TestCustomThresholds(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock(base)
	cnt := counter.New(counter.Config{}, clk)
	sink := &captureSink{}
	eng := segment.NewEngine(segment.Config{PowerUserThreshold: 2, PowerUserWindow: time.Hour}, cnt, sink, clk, nil)

	cnt.Append(profileA, segment.EventFeatureUsed, base.Add(-time.Minute))
	cnt.Append(profileA, segment.EventFeatureUsed, base.Add(-2*time.Minute))

	got := eng.EvaluateAndEmit(context.Background(), profile.Snapshot{ProfileID: profileA, LastSeen: base, Segments: map[string]struct{}{}})
	assert.Contains(t, got, segment.SegmentPowerUser)
}
