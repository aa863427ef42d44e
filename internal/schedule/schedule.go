// Package schedule fires relay requests and housekeeping jobs on cron specs.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Source prefixes task names enqueued by schedules.
const Source = "Schedule"

// Requester enqueues relay requests. Implemented by *control.Loop.
type Requester interface {
	Request(circuit int, energize bool, source string) error
}

// Info describes a registered entry.
type Info struct {
	ID   cron.EntryID
	Name string
	Spec string
	Next time.Time
}

// Scheduler wraps a cron runner. Jobs only enqueue work; they never touch
// relay state directly.
type Scheduler struct {
	c *cron.Cron

	mu    sync.Mutex
	names map[cron.EntryID]Info
}

// New creates a stopped scheduler in loc (time.Local when nil).
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		names: make(map[cron.EntryID]Info),
	}
}

// AddRelay registers a schedule that requests circuit on or off.
func (s *Scheduler) AddRelay(name, spec string, circuit int, energize bool, r Requester) (cron.EntryID, error) {
	source := Source
	if name != "" {
		source = Source + " " + name
	}
	return s.add(name, spec, func() {
		if err := r.Request(circuit, energize, source); err != nil {
			log.Warn().Err(err).Str("schedule", name).Int("circuit", circuit).Msg("schedule request dropped")
			return
		}
		log.Info().Str("schedule", name).Int("circuit", circuit).Bool("energize", energize).Msg("schedule fired")
	})
}

// AddEvery registers a housekeeping job run every interval.
func (s *Scheduler) AddEvery(name string, interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("schedule %q: interval must be positive", name)
	}
	return s.add(name, "@every "+interval.String(), job)
}

func (s *Scheduler) add(name, spec string, job func()) (cron.EntryID, error) {
	id, err := s.c.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", name, err)
	}
	s.mu.Lock()
	s.names[id] = Info{ID: id, Name: name, Spec: spec}
	s.mu.Unlock()
	log.Debug().Str("schedule", name).Str("spec", spec).Msg("schedule added")
	return id, nil
}

// Run executes the entry's job immediately on the calling goroutine.
func (s *Scheduler) Run(id cron.EntryID) bool {
	e := s.c.Entry(id)
	if !e.Valid() {
		return false
	}
	e.WrappedJob.Run()
	return true
}

// Entries lists registered entries with their next activation.
func (s *Scheduler) Entries() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.names))
	for _, e := range s.c.Entries() {
		info, ok := s.names[e.ID]
		if !ok {
			continue
		}
		info.Next = e.Next
		out = append(out, info)
	}
	return out
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
