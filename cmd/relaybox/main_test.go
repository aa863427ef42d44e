package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/config"
	"github.com/PiotrChr/RelayBoxController/internal/control"
	"github.com/PiotrChr/RelayBoxController/internal/credentials"
	"github.com/PiotrChr/RelayBoxController/internal/display"
	"github.com/PiotrChr/RelayBoxController/internal/gpio"
	"github.com/PiotrChr/RelayBoxController/internal/mqtt"
	"github.com/PiotrChr/RelayBoxController/internal/network"
	"github.com/PiotrChr/RelayBoxController/internal/relay"
	"github.com/PiotrChr/RelayBoxController/internal/status"
	"github.com/PiotrChr/RelayBoxController/internal/taskqueue"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.IP != "192.168.1.100" || info.SSID != "MyNetwork" || info.Type != "wifi" {
		t.Errorf("info: got %+v", info)
	}
	if info.Gateway != "" {
		t.Errorf("Gateway: got %q, want empty", info.Gateway)
	}
}

func TestBoardRelaysFromConfig(t *testing.T) {
	rs := boardRelays(config.Default())
	if len(rs) != 4 {
		t.Fatalf("relays: got %d, want 4", len(rs))
	}
	if rs[2].Name != "Circuit 3" || rs[2].OutputPin != 13 || rs[2].OnButtonPin != 24 {
		t.Errorf("relay 2: got %+v", rs[2])
	}
}

// --- runLoop tests ---

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func idle() []int { return []int{1, 1, 1, 1, 1, 1, 1, 1} }

// repeat returns n copies of sample.
func repeat(sample []int, n int) [][]int {
	out := make([][]int, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

type loopFixture struct {
	loop    *control.Loop
	board   *relay.Board
	writer  *gpio.FakeWriter
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newLoopFixture(samples [][]int) *loopFixture {
	f := &loopFixture{
		board:   relay.NewBoard(boardRelays(config.Default())),
		writer:  gpio.NewFakeWriter(4),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(start, status.Config{}),
	}
	f.loop = control.New(control.Config{ActiveLow: true, Lockout: 2 * time.Second, Now: func() time.Time { return start }},
		f.board, taskqueue.NewQueue(20), gpio.NewFakeReader(samples), f.writer, f.tracker, start)
	f.loop.AddNotifier(mqtt.StateNotifier{Publisher: f.pub})
	f.board.MarkDirty()
	return f
}

// drive runs runLoop for nTicks then sends signal, returning runLoop's error
// and every sd_notify state sent.
func (f *loopFixture) drive(t *testing.T, opts loopOptions, clock func() time.Time, nTicks int, signal os.Signal) ([]string, error) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	notes := make(chan string, 1000)
	opts.Notify = func(s string) { notes <- s }

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(f.loop, f.pub, f.pub, f.tracker, opts, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	err := <-errCh
	close(notes)
	var got []string
	for n := range notes {
		got = append(got, n)
	}
	return got, err
}

func TestRunLoopInitialSweep(t *testing.T) {
	f := newLoopFixture(repeat(idle(), 3))
	clock := fakeClock(start.Add(3*time.Second), 10*time.Millisecond)

	_, err := f.drive(t, loopOptions{}, clock, 3, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if f.writer.Count() != 1 {
		t.Errorf("writes: got %d, want 1 initial sweep", f.writer.Count())
	}
	if got := f.writer.Last(); len(got) != 4 || got[0] != 1 || got[3] != 1 {
		t.Errorf("initial levels: got %v, want all open (1)", got)
	}
	if len(f.pub.States) != 1 {
		t.Errorf("state events: got %d, want 1", len(f.pub.States))
	}
	if len(f.pub.SystemEvents) != 1 || f.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected single SHUTDOWN event, got %+v", f.pub.SystemEvents)
	}
}

func TestRunLoopButtonToggle(t *testing.T) {
	pressed := idle()
	pressed[2] = 0 // Circuit 2 enable
	samples := append(repeat(idle(), 2), repeat(pressed, 3)...)
	samples = append(samples, repeat(idle(), 3)...)
	f := newLoopFixture(samples)
	// Ticks 1s apart, starting after the boot lockout.
	clock := fakeClock(start.Add(3*time.Second), time.Second)

	_, err := f.drive(t, loopOptions{}, clock, len(samples), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	on, _ := f.board.State(1)
	if !on {
		t.Error("Circuit 2 should be energized after press and release")
	}
	if len(f.pub.States) != 2 {
		t.Fatalf("state events: got %d, want 2 (boot + toggle)", len(f.pub.States))
	}
	if !f.pub.States[1][1].Energized {
		t.Error("published state should show Circuit 2 ON")
	}
	if f.tracker.Snapshot().Stats.Buttons.Activations != 1 {
		t.Errorf("activations: got %d, want 1", f.tracker.Snapshot().Stats.Buttons.Activations)
	}
}

func TestRunLoopRequestFromOtherGoroutine(t *testing.T) {
	f := newLoopFixture(repeat(idle(), 1))
	if err := f.loop.Request(3, true, "API"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	on, _ := f.board.State(3)
	if on {
		t.Fatal("request must not apply before a tick")
	}

	_, err := f.drive(t, loopOptions{}, fakeClock(start, time.Second), 1, syscall.SIGINT)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	on, _ = f.board.State(3)
	if !on {
		t.Error("Circuit 4 should be energized after one tick")
	}
}

func TestRunLoopShutdown(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	} {
		t.Run(tt.want, func(t *testing.T) {
			f := newLoopFixture(repeat(idle(), 2))
			f.pub.Connected = true

			notes, err := f.drive(t, loopOptions{}, fakeClock(start, time.Second), 2, tt.sig)
			if err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}
			if len(f.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(f.pub.SystemEvents))
			}
			se := f.pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.want || !se.Retained {
				t.Errorf("event: got %+v", se)
			}

			var payload status.StatusJSON
			if err := json.Unmarshal(f.pub.SystemPayloads[0], &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if payload.Status.Reason != tt.want || !payload.Status.MQTT.Connected {
				t.Errorf("payload status: got %+v", payload.Status)
			}
			if len(notes) == 0 || notes[len(notes)-1] != daemon.SdNotifyStopping {
				t.Errorf("sd_notify: got %v, want STOPPING last", notes)
			}
		})
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")

	f := newLoopFixture(repeat(idle(), 1))
	// 4 ticks at 5 minute steps: t=0,5,10,15 min -> one heartbeat at 15.
	clock := fakeClock(start, 5*time.Minute)

	_, err := f.drive(t, loopOptions{Heartbeat: 15 * time.Minute}, clock, 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var events []string
	for _, e := range f.pub.SystemEvents {
		events = append(events, e.Event)
	}
	if len(events) != 2 || events[0] != "HEARTBEAT" || events[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", events)
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(f.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Status.Network == nil || payload.Status.Network.IP != "10.0.0.7" {
		t.Errorf("heartbeat network: got %+v", payload.Status.Network)
	}
	if payload.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q, want HEARTBEAT", payload.Status.Event)
	}
}

func TestRunLoopWatchdog(t *testing.T) {
	f := newLoopFixture(repeat(idle(), 1))
	clock := fakeClock(start, time.Second)

	notes, err := f.drive(t, loopOptions{Watchdog: 2 * time.Second}, clock, 5, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	pings := 0
	for _, n := range notes {
		if n == daemon.SdNotifyWatchdog {
			pings++
		}
	}
	// t=0 (first ping), t=2, t=4
	if pings != 3 {
		t.Errorf("watchdog pings: got %d, want 3 (%v)", pings, notes)
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	f := newLoopFixture(repeat(idle(), 3))
	f.pub.PublishError = errors.New("broker down")
	f.pub.PublishSystemError = errors.New("broker down")

	_, err := f.drive(t, loopOptions{}, fakeClock(start, time.Second), 3, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if f.writer.Count() != 1 {
		t.Errorf("writes: got %d, want 1", f.writer.Count())
	}
}

func TestRunLoopWithoutPublisher(t *testing.T) {
	f := newLoopFixture(repeat(idle(), 1))
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(f.loop, nil, nil, nil, loopOptions{Heartbeat: time.Second}, fakeClock(start, time.Second), tick, sig)
	}()
	tick <- time.Time{}
	tick <- time.Time{}
	sig <- syscall.SIGTERM

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

// --- startup tests ---

func newStore(t *testing.T) *credentials.Store {
	t.Helper()
	s, err := credentials.OpenStore(context.Background(), filepath.Join(t.TempDir(), "relaybox.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJoinNetworkOverrideFile(t *testing.T) {
	store := newStore(t)
	dir := t.TempDir()
	override := filepath.Join(dir, "wifi.txt")
	if err := os.WriteFile(override, []byte("ssid=MyNet password=Secr3t!\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec := &display.Recorder{}
	wifi := &network.Fake{}

	creds := bootstrap{store: store, overrideFile: override, net: wifi, disp: rec}.joinNetwork(context.Background())

	if creds.SSID != "MyNet" || creds.Password != "Secr3t!" {
		t.Errorf("creds: got %+v", creds)
	}
	want := []string{"Restoring credentials...", "Found connection details", "Saving credentials...", "Connecting to: MyNet"}
	got := rec.Messages()
	if len(got) != len(want) {
		t.Fatalf("display: got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("display[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if wifi.Attempts() != 1 || wifi.Connects[0] != "MyNet" {
		t.Errorf("connects: got %v", wifi.Connects)
	}

	saved, err := store.Load(context.Background())
	if err != nil || saved.SSID != "MyNet" {
		t.Errorf("stored: got %+v, %v", saved, err)
	}
	if _, err := os.Stat(override); err != nil {
		t.Error("override file must stay unless archiving is enabled")
	}
}

func TestJoinNetworkFallsBackToStore(t *testing.T) {
	store := newStore(t)
	if err := store.Save(context.Background(), credentials.Credentials{SSID: "Stored", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	rec := &display.Recorder{}
	wifi := &network.Fake{}

	creds := bootstrap{store: store, overrideFile: filepath.Join(t.TempDir(), "missing.txt"), net: wifi, disp: rec}.joinNetwork(context.Background())

	if creds.SSID != "Stored" {
		t.Errorf("creds: got %+v", creds)
	}
	for _, m := range rec.Messages() {
		if m == "Found connection details" {
			t.Error("missing override file must not report found details")
		}
	}
	if wifi.Attempts() != 1 {
		t.Errorf("connect attempts: got %d, want 1", wifi.Attempts())
	}
}

func TestJoinNetworkUnparsableOverrideKeepsStored(t *testing.T) {
	store := newStore(t)
	store.Save(context.Background(), credentials.Credentials{SSID: "Stored", Password: "pw"})
	override := filepath.Join(t.TempDir(), "wifi.txt")
	os.WriteFile(override, []byte("ssid=OnlySSID"), 0o600)

	creds := bootstrap{store: store, overrideFile: override, net: &network.Fake{}, disp: &display.Recorder{}}.joinNetwork(context.Background())
	if creds.SSID != "Stored" {
		t.Errorf("creds: got %+v, want stored credentials kept", creds)
	}
}

func TestJoinNetworkNothingConfigured(t *testing.T) {
	rec := &display.Recorder{}
	wifi := &network.Fake{}

	creds := bootstrap{net: wifi, disp: rec}.joinNetwork(context.Background())

	if !creds.Empty() {
		t.Errorf("creds: got %+v, want empty", creds)
	}
	if wifi.Attempts() != 0 {
		t.Error("no connect attempt expected without ssid")
	}
	msgs := rec.Messages()
	if msgs[len(msgs)-1] != "No network configured" {
		t.Errorf("display: got %q", msgs)
	}
}

func TestJoinNetworkArchivesOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "wifi.txt")
	os.WriteFile(override, []byte("ssid=MyNet password=pw"), 0o600)

	bootstrap{overrideFile: override, archive: true, net: &network.Fake{}, disp: &display.Recorder{}}.joinNetwork(context.Background())

	if _, err := os.Stat(override); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("override file should be moved, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, credentials.ArchiveName)); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestJoinNetworkConnectFailure(t *testing.T) {
	rec := &display.Recorder{}
	wifi := &network.Fake{ConnectError: errors.New("timeout")}
	override := filepath.Join(t.TempDir(), "wifi.txt")
	os.WriteFile(override, []byte("ssid=MyNet password=pw"), 0o600)

	creds := bootstrap{overrideFile: override, net: wifi, disp: rec}.joinNetwork(context.Background())
	if creds.SSID != "MyNet" {
		t.Errorf("creds: got %+v", creds)
	}
	msgs := rec.Messages()
	if msgs[len(msgs)-1] != "Wi-Fi not connected" {
		t.Errorf("display: got %q", msgs)
	}
}
