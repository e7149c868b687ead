// Package event defines the wire-level event model consumed from the
// upstream bus: IDENTIFY, TRACK, and ALIAS events carrying identifiers,
// traits, and free-form properties.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Type discriminates the event kinds the engine understands.
type Type string

// Event types.
const (
	TypeIdentify Type = "IDENTIFY"
	TypeTrack    Type = "TRACK"
	TypeAlias    Type = "ALIAS"
)

// Validation sentinel errors.
var (
	ErrMissingEventID   = errors.New("event is missing eventId")
	ErrUnknownType      = errors.New("unknown event type")
	ErrNoIdentifiers    = errors.New("event carries no identifier")
	ErrTrackWithoutName = errors.New("TRACK event is missing name")
)

// Event is a single ingested event. Ts is event time (RFC 3339 on the wire),
// independent of arrival time.
type Event struct {
	EventID     string         `json:"eventId"`
	Ts          time.Time      `json:"ts"`
	Type        Type           `json:"type"`
	UserID      string         `json:"userId,omitempty"`
	Email       string         `json:"email,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	Name        string         `json:"name,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Traits      map[string]any `json:"traits,omitempty"`
}

// Validate checks the structural validity rules: a non-empty eventId, at
// least one identifier field, a known type, and a name on TRACK events.
func (e Event) Validate() error {
	if e.EventID == "" {
		return ErrMissingEventID
	}

	switch e.Type {
	case TypeIdentify, TypeTrack, TypeAlias:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	if e.UserID == "" && e.Email == "" && e.AnonymousID == "" {
		return ErrNoIdentifiers
	}

	if e.Type == TypeTrack && e.Name == "" {
		return ErrTrackWithoutName
	}

	return nil
}

// RawIdentifiers returns the identifier fields present on the event as raw
// "scheme:value" strings, ready for normalization.
func (e Event) RawIdentifiers() []string {
	ids := make([]string, 0, 3)

	if e.UserID != "" {
		ids = append(ids, "user:"+e.UserID)
	}

	if e.Email != "" {
		ids = append(ids, "email:"+e.Email)
	}

	if e.AnonymousID != "" {
		ids = append(ids, "anon:"+e.AnonymousID)
	}

	return ids
}

// PartitionKey returns the key a durable log must partition by so that
// per-profile ordering survives transport: userId, else anonymousId, else
// the eventId itself.
func (e Event) PartitionKey() string {
	switch {
	case e.UserID != "":
		return e.UserID
	case e.AnonymousID != "":
		return e.AnonymousID
	default:
		return e.EventID
	}
}
