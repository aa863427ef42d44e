// Package status provides a thread-safe status tracker for the relaybox daemon.
// It is read by HTTP handlers and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/PiotrChr/RelayBoxController/internal/control"
	"github.com/PiotrChr/RelayBoxController/internal/relay"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	LockoutMs     int64
	HeartbeatMs   int64
	QueueCapacity int
	ActiveLow     bool
	Broker        string
	HTTPAddr      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Relays        []relay.Relay
	LastChange    time.Time
	Stats         control.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Display       string
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RelaysChanged records the relay states written by the latest sweep.
// It satisfies control.Notifier.
func (t *Tracker) RelaysChanged(relays []relay.Relay, at time.Time) {
	rs := make([]relay.Relay, len(relays))
	copy(rs, relays)
	t.mu.Lock()
	t.snap.Relays = rs
	t.snap.LastChange = at
	t.mu.Unlock()
}

// Update sets the loop counters.
// Called from runLoop on every tick.
func (t *Tracker) Update(stats control.Stats) {
	t.mu.Lock()
	t.snap.Stats = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Show records the latest display message. It satisfies display.Display.
func (t *Tracker) Show(msg string) {
	t.mu.Lock()
	t.snap.Display = msg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Relays = append([]relay.Relay(nil), t.snap.Relays...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
