// Package relay holds the commanded state of every relay circuit.
//
// The Board is the single source of truth for hardware output. Commanded
// state changes only inside queued task jobs; the control loop reads the
// dirty flag to decide whether to sweep the output lines.
package relay

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCircuit is returned for a circuit index outside the board.
var ErrUnknownCircuit = errors.New("unknown circuit")

// Relay is one controllable circuit.
type Relay struct {
	Index        int
	Name         string
	OutputPin    int
	OnButtonPin  int
	OffButtonPin int
	// Energized is the commanded state: true = closed/energized,
	// false = open/de-energized (boot value).
	Energized bool
}

// Board owns a fixed set of relays and the dirty flag covering all of them.
type Board struct {
	mu     sync.RWMutex
	relays []Relay
	dirty  bool
}

// NewBoard copies the given relays into a new board. Indices are reassigned
// to match slice position and every relay starts open.
func NewBoard(relays []Relay) *Board {
	rs := make([]Relay, len(relays))
	for i, r := range relays {
		r.Index = i
		r.Energized = false
		rs[i] = r
	}
	return &Board{relays: rs}
}

// Len returns the number of circuits.
func (b *Board) Len() int {
	return len(b.relays)
}

// Valid reports whether index names a circuit on this board.
func (b *Board) Valid(index int) bool {
	return index >= 0 && index < len(b.relays)
}

// SetState sets the commanded state of a circuit and reports whether it
// changed. The dirty flag is raised only on an actual change, which makes
// repeated identical requests free at the hardware layer.
func (b *Board) SetState(index int, energized bool) (bool, error) {
	if !b.Valid(index) {
		return false, fmt.Errorf("%w: %d", ErrUnknownCircuit, index)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.relays[index].Energized == energized {
		return false, nil
	}
	b.relays[index].Energized = energized
	b.dirty = true
	return true, nil
}

// State returns the commanded state of a circuit.
func (b *Board) State(index int) (bool, error) {
	if !b.Valid(index) {
		return false, fmt.Errorf("%w: %d", ErrUnknownCircuit, index)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relays[index].Energized, nil
}

// MarkDirty forces the next ConsumeDirty to return true.
func (b *Board) MarkDirty() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// ConsumeDirty returns the dirty flag and clears it.
func (b *Board) ConsumeDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.dirty
	b.dirty = false
	return d
}

// Snapshot returns a copy of every relay.
func (b *Board) Snapshot() []Relay {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Relay, len(b.relays))
	copy(out, b.relays)
	return out
}

// Status returns relay name -> energized.
func (b *Board) Status() map[string]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]bool, len(b.relays))
	for _, r := range b.relays {
		out[r.Name] = r.Energized
	}
	return out
}

// OutputLevel returns the raw line level that drives a relay in the given
// commanded state. Active-low boards energize the coil on a Low output.
func OutputLevel(energized, activeLow bool) int {
	if energized != activeLow {
		return 1
	}
	return 0
}
