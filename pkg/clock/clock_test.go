package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/luminal-data/luminal/pkg/clock"
)

func TestSystemTracksWallClock(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := clock.System().Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestMockAdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := clock.NewMock(start)

	assert.Equal(t, start, mock.Now())

	mock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), mock.Now())

	target := start.Add(time.Hour)
	mock.Set(target)
	assert.Equal(t, target, mock.Now())
}
