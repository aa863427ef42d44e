// Package mqtt publishes relay state and system events and accepts relay
// commands over MQTT.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PiotrChr/RelayBoxController/internal/relay"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "home/relaybox"

// Source tags tasks enqueued from MQTT commands.
const Source = "MQTT"

// Topics holds the topic names derived from a prefix.
type Topics struct {
	State  string // retained relay state after every sweep
	System string // STARTUP, SHUTDOWN, HEARTBEAT, OFFLINE
	Set    string // inbound commands
}

// NewTopics derives topics from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		State:  prefix + "/state",
		System: prefix + "/system",
		Set:    prefix + "/set",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends the relay states written by a sweep.
	// Returns error if publishing fails (should not crash the process).
	PublishState(relays []relay.Relay, at time.Time) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Requester enqueues relay requests. Implemented by *control.Loop.
type Requester interface {
	Request(circuit int, energize bool, source string) error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the MQTT message published on the state topic.
type StatePayload struct {
	Relays RelaysPayload `json:"relays"`
}

// RelaysPayload contains every relay's commanded state.
type RelaysPayload struct {
	Timestamp string         `json:"timestamp"`
	Circuits  []CircuitState `json:"circuits"`
}

// CircuitState is a single relay's state.
type CircuitState struct {
	Circuit int    `json:"circuit"`
	Name    string `json:"name"`
	State   string `json:"state"`
}

// FormatStatePayload creates the JSON payload for a relay sweep.
func FormatStatePayload(relays []relay.Relay, at time.Time) ([]byte, error) {
	circuits := make([]CircuitState, len(relays))
	for i, r := range relays {
		st := "OFF"
		if r.Energized {
			st = "ON"
		}
		circuits[i] = CircuitState{Circuit: r.Index, Name: r.Name, State: st}
	}
	return json.Marshal(StatePayload{Relays: RelaysPayload{
		Timestamp: at.UTC().Format(time.RFC3339),
		Circuits:  circuits,
	}})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// ErrBadCommand is returned for a command payload that cannot be applied.
var ErrBadCommand = errors.New("bad command")

// Command is an inbound relay command, e.g. {"circuit":2,"action":"enable"}.
type Command struct {
	Circuit *int   `json:"circuit"`
	Action  string `json:"action"`
}

// ParseCommand decodes a command payload. It returns the circuit index and
// whether the relay should be energized.
func ParseCommand(payload []byte) (int, bool, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if cmd.Circuit == nil {
		return 0, false, fmt.Errorf("%w: missing circuit", ErrBadCommand)
	}
	switch strings.ToLower(cmd.Action) {
	case "enable", "on":
		return *cmd.Circuit, true, nil
	case "disable", "off":
		return *cmd.Circuit, false, nil
	default:
		return 0, false, fmt.Errorf("%w: unknown action %q", ErrBadCommand, cmd.Action)
	}
}

// HandleCommand parses payload and enqueues the request on r.
func HandleCommand(r Requester, payload []byte) error {
	circuit, energize, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	if err := r.Request(circuit, energize, Source); err != nil {
		return fmt.Errorf("request circuit %d: %w", circuit, err)
	}
	return nil
}

// StateNotifier publishes every sweep. It satisfies control.Notifier.
type StateNotifier struct {
	Publisher Publisher
	// OnError is called when publishing fails. Nil ignores errors.
	OnError func(error)
}

// RelaysChanged publishes the new relay states.
func (n StateNotifier) RelaysChanged(relays []relay.Relay, at time.Time) {
	if err := n.Publisher.PublishState(relays, at); err != nil && n.OnError != nil {
		n.OnError(err)
	}
}
