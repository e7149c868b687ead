package profile

import (
	"sort"
	"sync"
	"time"

	"github.com/luminal-data/luminal/pkg/identity"
)

// Store is the in-memory profile store. Profiles are created lazily on first
// reference to a canonical id and never destroyed by the engine. Each
// profile carries its own mutex so update batches for distinct profiles
// never contend; the outer map is guarded separately.
type Store struct {
	mu       sync.RWMutex
	profiles map[identity.Identifier]*entry
}

type entry struct {
	mu sync.Mutex
	p  *stored
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{profiles: make(map[identity.Identifier]*entry)}
}

// GetOrCreate returns a snapshot of the profile for the given canonical id,
// creating an empty profile if unseen.
func (s *Store) GetOrCreate(profileID identity.Identifier) Snapshot {
	e := s.entryFor(profileID)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.p.snapshot(profileID)
}

// Snapshot returns a copy of the profile if it exists.
func (s *Store) Snapshot(profileID identity.Identifier) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.profiles[profileID]
	s.mu.RUnlock()

	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.p.snapshot(profileID), true
}

// MergeIdentifiers set-unions the given identifier values into the profile.
// Identifier sets are grow-only: retroactive deletion would break identity
// resolution for previously merged events.
func (s *Store) MergeIdentifiers(profileID identity.Identifier, ids Identifiers) {
	e := s.entryFor(profileID)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range ids.UserIDs {
		e.p.userIDs[v] = struct{}{}
	}

	for _, v := range ids.Emails {
		e.p.emails[v] = struct{}{}
	}

	for _, v := range ids.AnonymousIDs {
		e.p.anonymousIDs[v] = struct{}{}
	}
}

// MergeTraits applies per-trait Last-Write-Wins: each trait updates only
// when eventTs is strictly newer than the stored instant. On equal
// timestamps the existing value wins, keeping replays stable.
func (s *Store) MergeTraits(profileID identity.Identifier, traits map[string]any, eventTs time.Time) {
	if len(traits) == 0 {
		return
	}

	e := s.entryFor(profileID)

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, value := range traits {
		current, ok := e.p.traits[name]
		if ok && !eventTs.After(current.UpdatedAt) {
			continue
		}

		e.p.traits[name] = Trait{Value: value, UpdatedAt: eventTs}
	}
}

// UpdateLastSeen raises lastSeen to ts; it never moves backwards.
func (s *Store) UpdateLastSeen(profileID identity.Identifier, ts time.Time) {
	e := s.entryFor(profileID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if ts.After(e.p.lastSeen) {
		e.p.lastSeen = ts
	}
}

// UpdateSegments atomically replaces the profile's segment membership set.
func (s *Store) UpdateSegments(profileID identity.Identifier, segments map[string]struct{}) {
	e := s.entryFor(profileID)

	e.mu.Lock()
	defer e.mu.Unlock()

	replacement := make(map[string]struct{}, len(segments))
	for name := range segments {
		replacement[name] = struct{}{}
	}

	e.p.segments = replacement
}

// Len returns the number of profiles in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.profiles)
}

// TopN returns snapshots of the n most recently seen profiles, ordered by
// lastSeen descending. Ties order by profile id for determinism.
func (s *Store) TopN(n int) []Snapshot {
	s.mu.RLock()

	ids := make([]identity.Identifier, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}

	s.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(ids))

	for _, id := range ids {
		if snap, ok := s.Snapshot(id); ok {
			snapshots = append(snapshots, snap)
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].LastSeen.Equal(snapshots[j].LastSeen) {
			return snapshots[i].LastSeen.After(snapshots[j].LastSeen)
		}

		return snapshots[i].ProfileID < snapshots[j].ProfileID
	})

	if n > 0 && len(snapshots) > n {
		snapshots = snapshots[:n]
	}

	return snapshots
}

// entryFor returns the entry for profileID, creating it under the write
// lock on first reference.
func (s *Store) entryFor(profileID identity.Identifier) *entry {
	s.mu.RLock()
	e, ok := s.profiles[profileID]
	s.mu.RUnlock()

	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok = s.profiles[profileID]; ok {
		return e
	}

	e = &entry{p: newStored()}
	s.profiles[profileID] = e

	return e
}
