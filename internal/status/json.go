package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Relays        []RelayJSON  `json:"relays"`
	LastChange    string       `json:"last_change,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Display       string       `json:"display,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Queue         QueueJSON    `json:"queue"`
	Counts        CountsJSON   `json:"button_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// RelayJSON is the JSON representation of one relay.
type RelayJSON struct {
	Circuit int    `json:"circuit"`
	Name    string `json:"name"`
	State   string `json:"state"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// QueueJSON reports task queue activity.
type QueueJSON struct {
	Pending  int   `json:"pending"`
	Capacity int   `json:"capacity"`
	Executed int64 `json:"executed"`
	Rejected int64 `json:"rejected"`
}

// CountsJSON is the JSON representation of button counters.
type CountsJSON struct {
	Edges       int `json:"edges"`
	Activations int `json:"activations"`
	Suppressed  int `json:"suppressed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64  `json:"poll_ms"`
	LockoutMs     int64  `json:"lockout_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	QueueCapacity int    `json:"queue_capacity"`
	ActiveLow     bool   `json:"active_low"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
}

// StateString renders a commanded state.
func StateString(energized bool) string {
	if energized {
		return "ON"
	}
	return "OFF"
}

func buildInner(snap Snapshot) StatusInner {
	relays := make([]RelayJSON, len(snap.Relays))
	for i, r := range snap.Relays {
		relays[i] = RelayJSON{Circuit: r.Index, Name: r.Name, State: StateString(r.Energized)}
	}

	inner := StatusInner{
		Relays:        relays,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Display:       snap.Display,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Queue: QueueJSON{
			Pending:  snap.Stats.Queued,
			Capacity: snap.Stats.QueueCap,
			Executed: snap.Stats.Executed,
			Rejected: snap.Stats.Rejected,
		},
		Counts: CountsJSON{
			Edges:       snap.Stats.Buttons.Edges,
			Activations: snap.Stats.Buttons.Activations,
			Suppressed:  snap.Stats.Buttons.Suppressed,
		},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			LockoutMs:     snap.Config.LockoutMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			QueueCapacity: snap.Config.QueueCapacity,
			ActiveLow:     snap.Config.ActiveLow,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
		},
	}
	if !snap.LastChange.IsZero() {
		inner.LastChange = snap.LastChange.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
