// Package segment evaluates named membership rules over profiles and emits
// edge-triggered ENTER/EXIT transitions to a sink. Membership is recomputed
// on every evaluation; only changes produce events.
package segment

import (
	"time"

	"github.com/luminal-data/luminal/pkg/identity"
)

// Action is a membership transition direction.
type Action string

// Transition actions.
const (
	ActionEnter Action = "ENTER"
	ActionExit  Action = "EXIT"
)

// Built-in segment names.
const (
	SegmentProPlan   = "pro_plan"
	SegmentPowerUser = "power_user"
	SegmentReengage  = "reengage"
)

// EventFeatureUsed is the TRACK event name counted by the power_user rule.
const EventFeatureUsed = "Feature Used"

// Defaults for the built-in rules.
const (
	DefaultPowerUserThreshold = 5
	DefaultPowerUserWindow    = 24 * time.Hour
	DefaultReengageInactivity = 10 * time.Minute
)

// TraitPlan is the trait inspected by the pro_plan rule.
const TraitPlan = "plan"

// planPro is the trait value granting pro_plan membership.
const planPro = "pro"

// Event is a single membership transition. Ts is processing time.
type Event struct {
	ProfileID identity.Identifier `json:"profileId"`
	Segment   string              `json:"segment"`
	Action    Action              `json:"action"`
	Ts        time.Time           `json:"ts"`
}

// Sink receives emitted transitions.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Config holds the thresholds of the built-in rules.
type Config struct {
	// PowerUserThreshold is the minimum "Feature Used" count within
	// PowerUserWindow for power_user membership.
	PowerUserThreshold uint64

	// PowerUserWindow is the sliding window the power_user count covers.
	PowerUserWindow time.Duration

	// ReengageInactivity is the minimum idle time for reengage membership.
	ReengageInactivity time.Duration
}

func (c Config) withDefaults() Config {
	if c.PowerUserThreshold == 0 {
		c.PowerUserThreshold = DefaultPowerUserThreshold
	}

	if c.PowerUserWindow <= 0 {
		c.PowerUserWindow = DefaultPowerUserWindow
	}

	if c.ReengageInactivity <= 0 {
		c.ReengageInactivity = DefaultReengageInactivity
	}

	return c
}
