// Package profile holds unified customer profiles: grow-only identifier
// sets, per-trait Last-Write-Wins values, lastSeen, and the cached segment
// membership.
package profile

import (
	"sort"
	"time"

	"github.com/luminal-data/luminal/pkg/identity"
)

// Trait is a single trait value with the event-time instant that set it.
type Trait struct {
	Value     any
	UpdatedAt time.Time
}

// Identifiers groups an event's identifier values by scheme. Values are raw
// (scheme-stripped); the sets on a profile stay disjoint by construction.
type Identifiers struct {
	UserIDs      []string
	Emails       []string
	AnonymousIDs []string
}

// stored is the internal mutable profile state. All mutation goes through
// Store so a single profile's update batch stays under one lock.
type stored struct {
	userIDs      map[string]struct{}
	emails       map[string]struct{}
	anonymousIDs map[string]struct{}
	traits       map[string]Trait
	lastSeen     time.Time
	segments     map[string]struct{}
}

func newStored() *stored {
	return &stored{
		userIDs:      make(map[string]struct{}),
		emails:       make(map[string]struct{}),
		anonymousIDs: make(map[string]struct{}),
		traits:       make(map[string]Trait),
		segments:     make(map[string]struct{}),
	}
}

// Snapshot is an immutable copy of a profile, safe to read without locks.
type Snapshot struct {
	ProfileID   identity.Identifier
	Identifiers Identifiers
	Traits      map[string]Trait
	LastSeen    time.Time
	Segments    map[string]struct{}
}

// TraitValue returns the value of the named trait, or nil if absent.
func (s Snapshot) TraitValue(name string) any {
	t, ok := s.Traits[name]
	if !ok {
		return nil
	}

	return t.Value
}

// InSegment reports whether the snapshot's cached membership contains name.
func (s Snapshot) InSegment(name string) bool {
	_, ok := s.Segments[name]

	return ok
}

func (p *stored) snapshot(id identity.Identifier) Snapshot {
	traits := make(map[string]Trait, len(p.traits))
	for name, t := range p.traits {
		traits[name] = t
	}

	segments := make(map[string]struct{}, len(p.segments))
	for name := range p.segments {
		segments[name] = struct{}{}
	}

	return Snapshot{
		ProfileID: id,
		Identifiers: Identifiers{
			UserIDs:      sortedKeys(p.userIDs),
			Emails:       sortedKeys(p.emails),
			AnonymousIDs: sortedKeys(p.anonymousIDs),
		},
		Traits:   traits,
		LastSeen: p.lastSeen,
		Segments: segments,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
