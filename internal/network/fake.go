package network

import (
	"context"
	"sync"
)

// Fake records connect attempts for tests.
type Fake struct {
	mu sync.Mutex

	// Connects lists every SSID passed to Connect.
	Connects []string
	// ConnectError, if set, is returned by Connect.
	ConnectError error
	// Connected is returned by IsConnected and set by a successful Connect.
	Connected bool
}

// Connect records the attempt.
func (f *Fake) Connect(ctx context.Context, ssid, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects = append(f.Connects, ssid)
	if f.ConnectError != nil {
		return f.ConnectError
	}
	if ssid == "" {
		return ErrNoSSID
	}
	f.Connected = true
	return nil
}

// IsConnected reports the Connected field.
func (f *Fake) IsConnected(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Attempts returns the number of Connect calls.
func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Connects)
}
