package logic

import "time"

// channelState tracks the last observed raw level of one button line.
type channelState struct {
	Channel
	level Level
}

// Debouncer turns raw button levels into ButtonEvents.
//
// A single lockout window is shared by every channel: any edge on any button
// restarts it, and while it is open no channel is examined at all. Actions
// fire on the release edge (back to IdleLevel); the press edge only consumes
// the window.
type Debouncer struct {
	lockout  time.Duration
	lastEdge time.Time
	channels []channelState
	counts   EventCounts
}

// NewDebouncer creates a debouncer for the given channels. Every channel
// starts at IdleLevel. The lockout window is considered open from startTime,
// so buttons are ignored for the first lockout after boot.
func NewDebouncer(channels []Channel, lockout time.Duration, startTime time.Time) *Debouncer {
	states := make([]channelState, len(channels))
	for i, ch := range channels {
		states[i] = channelState{Channel: ch, level: IdleLevel}
	}
	return &Debouncer{
		lockout:  lockout,
		lastEdge: startTime,
		channels: states,
	}
}

// Process examines one sample and returns the events it produced.
// Channels are examined in order; once one edge is accepted the lockout is
// open and the remaining channels in the same sample are skipped.
func (d *Debouncer) Process(input Input) []ButtonEvent {
	var events []ButtonEvent

	for i := range d.channels {
		if i >= len(input.Levels) {
			break
		}
		ch := &d.channels[i]
		raw := input.Levels[i]

		if d.Locked(input.Time) {
			if raw != ch.level {
				d.counts.Suppressed++
			}
			continue
		}

		if raw == ch.level {
			continue
		}

		ch.level = raw
		d.lastEdge = input.Time
		d.counts.Edges++

		if raw == IdleLevel {
			d.counts.Activations++
			events = append(events, ButtonEvent{
				Timestamp: input.Time,
				Relay:     ch.Relay,
				Action:    ch.Action,
			})
		}
	}

	return events
}

// Locked reports whether the shared lockout window is open at now.
func (d *Debouncer) Locked(now time.Time) bool {
	return now.Sub(d.lastEdge) < d.lockout
}

// Channels returns the channel definitions in sampling order.
func (d *Debouncer) Channels() []Channel {
	out := make([]Channel, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.Channel
	}
	return out
}

// Levels returns the last stored level of every channel.
func (d *Debouncer) Levels() []Level {
	out := make([]Level, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.level
	}
	return out
}

// LastEdge returns the time of the most recent accepted edge (or the start
// time if none has been seen).
func (d *Debouncer) LastEdge() time.Time {
	return d.lastEdge
}

// EventCountsSnapshot returns a copy of the counters.
func (d *Debouncer) EventCountsSnapshot() EventCounts {
	return d.counts
}
