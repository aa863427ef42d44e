// Package control runs the cooperative relay control loop.
//
// Every intent (button release, HTTP call, MQTT command, schedule) becomes a
// task on the queue. Only Tick, running on the loop goroutine, executes tasks
// and writes the relay output lines.
package control

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/gpio"
	"github.com/PiotrChr/RelayBoxController/internal/logic"
	"github.com/PiotrChr/RelayBoxController/internal/relay"
	"github.com/PiotrChr/RelayBoxController/internal/taskqueue"
)

// ErrInvalidCircuit is returned by Request for an index outside the board.
var ErrInvalidCircuit = errors.New("invalid circuit")

// Notifier is told about every hardware sweep.
type Notifier interface {
	RelaysChanged(relays []relay.Relay, at time.Time)
}

// Notifiers fans a sweep out to several notifiers in order.
type Notifiers []Notifier

// RelaysChanged calls every notifier.
func (ns Notifiers) RelaysChanged(relays []relay.Relay, at time.Time) {
	for _, n := range ns {
		n.RelaysChanged(relays, at)
	}
}

// Config controls loop behaviour.
type Config struct {
	// ActiveLow drives a Low output to energize a relay.
	ActiveLow bool
	// Lockout is the shared button debounce window.
	Lockout time.Duration
	// Idle gates task execution. Nil means always idle.
	Idle func() bool
	// Now stamps tasks enqueued through Request. Nil means time.Now.
	// It must match the clock Tick is driven with.
	Now func() time.Time
}

// TickResult describes what one Tick did.
type TickResult struct {
	Events   int  // button activations seen
	Executed int  // tasks run
	Flushed  bool // outputs written
}

// Stats is a point-in-time view of loop counters.
type Stats struct {
	Buttons  logic.EventCounts
	Executed int64
	Rejected int64
	Queued   int
	QueueCap int
}

// Loop owns the board, debouncer, queue and hardware lines.
type Loop struct {
	board     *relay.Board
	queue     *taskqueue.Queue
	debouncer *logic.Debouncer
	reader    gpio.Reader
	writer    gpio.Writer
	notifier  Notifier
	activeLow bool
	idle      func() bool
	now       func() time.Time

	startTime     time.Time
	lastHeartbeat time.Time

	executed atomic.Int64
	rejected atomic.Int64
}

// New creates a loop. The reader must return button levels in ButtonPins
// order and the writer must accept levels in OutputPins order.
func New(cfg Config, board *relay.Board, queue *taskqueue.Queue, reader gpio.Reader, writer gpio.Writer, notifier Notifier, startTime time.Time) *Loop {
	l := &Loop{
		board:         board,
		queue:         queue,
		reader:        reader,
		writer:        writer,
		notifier:      notifier,
		activeLow:     cfg.ActiveLow,
		idle:          cfg.Idle,
		now:           cfg.Now,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	if l.idle == nil {
		l.idle = func() bool { return true }
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.debouncer = logic.NewDebouncer(Channels(board.Snapshot()), cfg.Lockout, startTime)
	return l
}

// AddNotifier registers another notifier. Call before the loop starts ticking.
func (l *Loop) AddNotifier(n Notifier) {
	if l.notifier == nil {
		l.notifier = n
		return
	}
	l.notifier = Notifiers{l.notifier, n}
}

// Channels returns the button channels for relays in sampling order:
// relay 0 enable, relay 0 disable, relay 1 enable, ...
func Channels(relays []relay.Relay) []logic.Channel {
	out := make([]logic.Channel, 0, 2*len(relays))
	for _, r := range relays {
		out = append(out,
			logic.Channel{Relay: r.Index, Action: logic.ActionEnable, Pin: r.OnButtonPin},
			logic.Channel{Relay: r.Index, Action: logic.ActionDisable, Pin: r.OffButtonPin},
		)
	}
	return out
}

// ButtonPins returns the input pins in the order Tick expects to read them.
func ButtonPins(relays []relay.Relay) []int {
	chans := Channels(relays)
	out := make([]int, len(chans))
	for i, ch := range chans {
		out[i] = ch.Pin
	}
	return out
}

// OutputPins returns the relay output pins in board order.
func OutputPins(relays []relay.Relay) []int {
	out := make([]int, len(relays))
	for i, r := range relays {
		out[i] = r.OutputPin
	}
	return out
}

// OutputLevels returns the raw output level for every relay.
func OutputLevels(relays []relay.Relay, activeLow bool) []int {
	out := make([]int, len(relays))
	for i, r := range relays {
		out[i] = relay.OutputLevel(r.Energized, activeLow)
	}
	return out
}

// Tick runs one loop iteration: poll buttons, drain ready tasks, then sweep
// the outputs if any commanded state changed.
func (l *Loop) Tick(now time.Time) TickResult {
	var res TickResult

	events, err := l.poll(now)
	if err != nil {
		log.Warn().Err(err).Msg("gpio read error")
	}
	for _, ev := range events {
		log.Info().Int("circuit", ev.Relay).Str("action", string(ev.Action)).Msg("button released")
		if err := l.enqueue(ev.Relay, ev.Action == logic.ActionEnable, "", now); err != nil {
			log.Warn().Err(err).Int("circuit", ev.Relay).Msg("button request dropped")
		}
	}
	res.Events = len(events)

	res.Executed = l.queue.Drain(now)
	l.executed.Add(int64(res.Executed))

	if l.board.ConsumeDirty() {
		l.flush(now)
		res.Flushed = true
	}
	return res
}

func (l *Loop) poll(now time.Time) ([]logic.ButtonEvent, error) {
	raw, err := l.reader.Read()
	if err != nil {
		return nil, err
	}
	levels := make([]logic.Level, len(raw))
	for i, v := range raw {
		levels[i] = logic.Level(v)
	}
	return l.debouncer.Process(logic.Input{Levels: levels, Time: now}), nil
}

func (l *Loop) flush(now time.Time) {
	snap := l.board.Snapshot()
	if err := l.writer.Write(OutputLevels(snap, l.activeLow)); err != nil {
		log.Error().Err(err).Msg("relay write error")
	}

	ev := log.Info()
	for _, r := range snap {
		ev = ev.Str(r.Name, onOff(r.Energized))
	}
	ev.Msg("state changed")

	if l.notifier != nil {
		l.notifier.RelaysChanged(snap, now)
	}
}

// Request enqueues a task that sets circuit to the requested state, due at
// the loop clock's current time. It is safe to call from any goroutine; the
// state changes on a later Tick. source prefixes the task name
// ("API" -> "API Enable").
func (l *Loop) Request(circuit int, energize bool, source string) error {
	return l.enqueue(circuit, energize, source, l.now())
}

func (l *Loop) enqueue(circuit int, energize bool, source string, now time.Time) error {
	if !l.board.Valid(circuit) {
		return fmt.Errorf("%w: %d", ErrInvalidCircuit, circuit)
	}

	name := actionFor(energize).Label()
	if source != "" {
		name = source + " " + name
	}

	idx := circuit
	task := taskqueue.New(name, now, l.idle, func() {
		l.apply(idx, energize, name)
	})
	if err := l.queue.Enqueue(task); err != nil {
		l.rejected.Add(1)
		return fmt.Errorf("enqueue %s for circuit %d: %w", name, circuit, err)
	}
	log.Debug().Str("task", task.ID).Str("name", name).Int("circuit", circuit).Msg("task queued")
	return nil
}

// apply runs inside a task job on the loop goroutine.
func (l *Loop) apply(circuit int, energize bool, name string) {
	changed, err := l.board.SetState(circuit, energize)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("task failed")
		return
	}
	log.Debug().Str("name", name).Int("circuit", circuit).Bool("changed", changed).Msg("task executed")
}

// Stats returns loop counters. Must be called from the loop goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Buttons:  l.debouncer.EventCountsSnapshot(),
		Executed: l.executed.Load(),
		Rejected: l.rejected.Load(),
		Queued:   l.queue.Len(),
		QueueCap: l.queue.Cap(),
	}
}

// Circuits returns the number of relays.
func (l *Loop) Circuits() int {
	return l.board.Len()
}

// Status returns relay name -> energized. Safe from any goroutine.
func (l *Loop) Status() map[string]bool {
	return l.board.Status()
}

func actionFor(energize bool) logic.Action {
	if energize {
		return logic.ActionEnable
	}
	return logic.ActionDisable
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
