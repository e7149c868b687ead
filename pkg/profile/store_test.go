package profile_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/profile"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const profileA = identity.Identifier("user:u-1")

func TestGetOrCreateLazy(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	_, ok := s.Snapshot(profileA)
	assert.False(t, ok)

	snap := s.GetOrCreate(profileA)
	assert.Equal(t, profileA, snap.ProfileID)
	assert.True(t, snap.LastSeen.IsZero())
	assert.Equal(t, 1, s.Len())

	_, ok = s.Snapshot(profileA)
	assert.True(t, ok)
}

func TestMergeIdentifiersGrowOnly(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.MergeIdentifiers(profileA, profile.Identifiers{UserIDs: []string{"u-1"}})
	s.MergeIdentifiers(profileA, profile.Identifiers{
		UserIDs:      []string{"u-1"},
		Emails:       []string{"a@b.io"},
		AnonymousIDs: []string{"a-1"},
	})

	snap, ok := s.Snapshot(profileA)
	require.True(t, ok)
	assert.Equal(t, []string{"u-1"}, snap.Identifiers.UserIDs)
	assert.Equal(t, []string{"a@b.io"}, snap.Identifiers.Emails)
	assert.Equal(t, []string{"a-1"}, snap.Identifiers.AnonymousIDs)

	// Merging an empty set removes nothing.
	s.MergeIdentifiers(profileA, profile.Identifiers{})

	snap, _ = s.Snapshot(profileA)
	assert.Equal(t, []string{"u-1"}, snap.Identifiers.UserIDs)
}

func TestMergeTraitsLastWriteWins(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.MergeTraits(profileA, map[string]any{"plan": "pro"}, base)

	// An older event must not overwrite.
	s.MergeTraits(profileA, map[string]any{"plan": "basic"}, base.Add(-10*time.Second))

	snap, _ := s.Snapshot(profileA)
	assert.Equal(t, "pro", snap.TraitValue("plan"))

	// A newer event wins.
	s.MergeTraits(profileA, map[string]any{"plan": "enterprise"}, base.Add(time.Second))

	snap, _ = s.Snapshot(profileA)
	assert.Equal(t, "enterprise", snap.TraitValue("plan"))
	assert.Equal(t, base.Add(time.Second), snap.Traits["plan"].UpdatedAt)
}

func TestMergeTraitsEqualTimestampKeepsExisting(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.MergeTraits(profileA, map[string]any{"plan": "pro"}, base)
	s.MergeTraits(profileA, map[string]any{"plan": "basic"}, base)

	snap, _ := s.Snapshot(profileA)
	assert.Equal(t, "pro", snap.TraitValue("plan"))
}

func TestMergeTraitsDisjointTraitsIndependent(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.MergeTraits(profileA, map[string]any{"plan": "pro"}, base)

	// A late event touching a different trait still lands.
	s.MergeTraits(profileA, map[string]any{"country": "US"}, base.Add(-time.Hour))

	snap, _ := s.Snapshot(profileA)
	assert.Equal(t, "pro", snap.TraitValue("plan"))
	assert.Equal(t, "US", snap.TraitValue("country"))
}

func TestUpdateLastSeenMonotone(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.UpdateLastSeen(profileA, base)
	s.UpdateLastSeen(profileA, base.Add(-time.Minute))

	snap, _ := s.Snapshot(profileA)
	assert.Equal(t, base, snap.LastSeen)

	s.UpdateLastSeen(profileA, base.Add(time.Minute))

	snap, _ = s.Snapshot(profileA)
	assert.Equal(t, base.Add(time.Minute), snap.LastSeen)
}

func TestUpdateSegmentsReplaces(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	s.UpdateSegments(profileA, map[string]struct{}{"pro_plan": {}, "power_user": {}})

	snap, _ := s.Snapshot(profileA)
	assert.True(t, snap.InSegment("pro_plan"))
	assert.True(t, snap.InSegment("power_user"))

	s.UpdateSegments(profileA, map[string]struct{}{"reengage": {}})

	snap, _ = s.Snapshot(profileA)
	assert.False(t, snap.InSegment("pro_plan"))
	assert.True(t, snap.InSegment("reengage"))
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()
	s.MergeTraits(profileA, map[string]any{"plan": "pro"}, base)

	snap, _ := s.Snapshot(profileA)
	snap.Traits["plan"] = profile.Trait{Value: "mutated", UpdatedAt: base}
	snap.Segments["bogus"] = struct{}{}

	fresh, _ := s.Snapshot(profileA)
	assert.Equal(t, "pro", fresh.TraitValue("plan"))
	assert.False(t, fresh.InSegment("bogus"))
}

func TestTopNOrdersByLastSeenDesc(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	for i := range 5 {
		id := identity.Identifier(fmt.Sprintf("user:u-%d", i))
		s.UpdateLastSeen(id, base.Add(time.Duration(i)*time.Minute))
	}

	top := s.TopN(3)
	require.Len(t, top, 3)
	assert.Equal(t, identity.Identifier("user:u-4"), top[0].ProfileID)
	assert.Equal(t, identity.Identifier("user:u-3"), top[1].ProfileID)
	assert.Equal(t, identity.Identifier("user:u-2"), top[2].ProfileID)

	all := s.TopN(0)
	assert.Len(t, all, 5)
}

func TestConcurrentBatchesKeepInvariants(t *testing.T) {
	t.Parallel()

	s := profile.NewStore()

	var wg sync.WaitGroup

	for w := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range 100 {
				ts := base.Add(time.Duration(w*100+i) * time.Second)
				s.MergeIdentifiers(profileA, profile.Identifiers{AnonymousIDs: []string{fmt.Sprintf("a-%d-%d", w, i)}})
				s.MergeTraits(profileA, map[string]any{"plan": "pro"}, ts)
				s.UpdateLastSeen(profileA, ts)
			}
		}()
	}

	wg.Wait()

	snap, _ := s.Snapshot(profileA)
	assert.Len(t, snap.Identifiers.AnonymousIDs, 800)

	// Trait timestamps never exceed lastSeen after a batch.
	assert.False(t, snap.Traits["plan"].UpdatedAt.After(snap.LastSeen))
}
