// Package logic contains the pure button debounce logic for the relay box.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Level is a raw digital input level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// IdleLevel is the level of a released button. Buttons are wired to ground
// with the line pulled up, so a press pulls the line Low.
const IdleLevel = High

// Action is what a button channel asks for.
type Action string

const (
	ActionEnable  Action = "ENABLE"
	ActionDisable Action = "DISABLE"
)

// Label returns the diagnostic task name for a button action.
func (a Action) Label() string {
	if a == ActionEnable {
		return "Enable"
	}
	return "Disable"
}

// Channel identifies one button line: relay index plus the action it triggers.
type Channel struct {
	Relay  int
	Action Action
	Pin    int
}

// ButtonEvent is emitted when a button is released after a press.
type ButtonEvent struct {
	Timestamp time.Time
	Relay     int
	Action    Action
}

// Input represents a single sample of raw levels, one per channel, in the
// order the channels were given to NewDebouncer.
type Input struct {
	Levels []Level
	Time   time.Time
}

// EventCounts tracks debounce activity since startup.
type EventCounts struct {
	// Edges is every observed level change (press and release).
	Edges int
	// Activations is the number of ButtonEvents emitted.
	Activations int
	// Suppressed counts samples that differed from the stored level but
	// arrived inside the lockout window.
	Suppressed int
}
