package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// FakeReader is a test double that returns scripted GPIO values.
type FakeReader struct {
	// Samples contains scripted raw levels to return.
	// Each call to Read() consumes the next sample.
	Samples [][]int

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples [][]int) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() ([]int, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}

	if len(f.Samples) == 0 {
		return nil, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	out := make([]int, len(sample))
	copy(out, sample)
	return out, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeWriter records every output sweep.
type FakeWriter struct {
	mu sync.Mutex

	// Lines is the number of output lines; Write rejects other lengths.
	Lines int

	// Writes contains a copy of every successful Write call.
	Writes [][]int

	// WriteError, if set, will be returned by Write()
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWriter creates a FakeWriter for n output lines.
func NewFakeWriter(n int) *FakeWriter {
	return &FakeWriter{Lines: n}
}

// Write records the levels.
func (f *FakeWriter) Write(levels []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WriteError != nil {
		return f.WriteError
	}
	if len(levels) != f.Lines {
		return fmt.Errorf("fake writer: got %d levels, want %d", len(levels), f.Lines)
	}
	w := make([]int, len(levels))
	copy(w, levels)
	f.Writes = append(f.Writes, w)
	return nil
}

// Last returns the most recent write, or nil if none.
func (f *FakeWriter) Last() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return nil
	}
	return f.Writes[len(f.Writes)-1]
}

// Count returns the number of successful writes.
func (f *FakeWriter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
