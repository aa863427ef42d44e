// Package display shows short status lines to the operator.
package display

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Display shows one status message at a time.
type Display interface {
	Show(msg string)
}

// Log writes every message to the global logger.
type Log struct{}

// Show logs msg.
func (Log) Show(msg string) {
	log.Info().Str("display", msg).Msg("status")
}

// Multi shows each message on every display in order.
type Multi []Display

// Show forwards msg.
func (m Multi) Show(msg string) {
	for _, d := range m {
		d.Show(msg)
	}
}

// Recorder keeps every message shown. Useful for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Show records msg.
func (r *Recorder) Show(msg string) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

// Messages returns a copy of everything shown so far.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
