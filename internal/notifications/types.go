// Package notifications implements the observer stream for WorkTrail.
package notifications

import (
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// EventType represents the kind of event
type EventType string

const (
	EventTrackingUpdate        EventType = "tracking_update"
	EventIdleWarning           EventType = "idle_warning"
	EventTrackingPaused        EventType = "tracking_paused"
	EventIdleReturn            EventType = "idle_return"
	EventTrackingStatusChanged EventType = "tracking_status_changed"
)

// Event is one message on the observer stream.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackingUpdate is pushed after every sample tick.
type TrackingUpdate struct {
	core.Status
}

// IdleWarning is pushed when the user is about to be considered idle.
type IdleWarning struct {
	SecondsUntilIdle int `json:"seconds_until_idle"`
}

// PauseReason says why tracking paused.
type PauseReason string

const PauseIdle PauseReason = "idle"

// TrackingPaused is pushed when the idle detector pauses tracking.
type TrackingPaused struct {
	Reason        PauseReason `json:"reason"`
	IdleStartTime time.Time   `json:"idle_start_time"`
}

// IdleReturn is pushed when the user returns from an idle period long
// enough to ask about.
type IdleReturn struct {
	IdlePeriod core.IdlePeriod `json:"idle_period"`
}

// TrackingStatusChanged is pushed on start and stop.
type TrackingStatusChanged struct {
	IsTracking bool `json:"is_tracking"`
}
