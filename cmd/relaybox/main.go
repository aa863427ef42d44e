// Command relaybox drives a bank of relays from push buttons, HTTP, MQTT and
// cron schedules.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/config"
	"github.com/PiotrChr/RelayBoxController/internal/control"
	"github.com/PiotrChr/RelayBoxController/internal/credentials"
	"github.com/PiotrChr/RelayBoxController/internal/display"
	"github.com/PiotrChr/RelayBoxController/internal/gpio"
	"github.com/PiotrChr/RelayBoxController/internal/logging"
	"github.com/PiotrChr/RelayBoxController/internal/mqtt"
	"github.com/PiotrChr/RelayBoxController/internal/network"
	"github.com/PiotrChr/RelayBoxController/internal/relay"
	"github.com/PiotrChr/RelayBoxController/internal/schedule"
	"github.com/PiotrChr/RelayBoxController/internal/status"
	"github.com/PiotrChr/RelayBoxController/internal/taskqueue"
	"github.com/PiotrChr/RelayBoxController/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (empty for built-in defaults)")
	printState := flag.Bool("print-state", false, "Print current button levels and exit")
	logLevel := flag.String("log-level", "", "Override logging.level (debug, info, warn, error)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, nil)

	if err := run(cfg, *printState); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func boardRelays(cfg *config.Config) []relay.Relay {
	out := make([]relay.Relay, len(cfg.Relays))
	for i, r := range cfg.Relays {
		out[i] = relay.Relay{
			Name:         r.Name,
			OutputPin:    r.OutputPin,
			OnButtonPin:  r.OnButtonPin,
			OffButtonPin: r.OffButtonPin,
		}
	}
	return out
}

func run(cfg *config.Config, printState bool) error {
	startTime := time.Now()
	board := relay.NewBoard(boardRelays(cfg))
	relays := board.Snapshot()

	// Initialize GPIO
	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, control.ButtonPins(relays))
	if err != nil {
		return fmt.Errorf("init gpio inputs: %w", err)
	}
	defer reader.Close()

	// Print state mode
	if printState {
		levels, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		for i, ch := range control.Channels(relays) {
			fmt.Printf("%s %s (pin %d): %s\n", relays[ch.Relay].Name, ch.Action.Label(), ch.Pin, levelString(levels[i]))
		}
		return nil
	}

	writer, err := gpio.NewRealWriter(cfg.GPIO.Chip, control.OutputPins(relays), control.OutputLevels(relays, cfg.ActiveLow))
	if err != nil {
		return fmt.Errorf("init gpio outputs: %w", err)
	}
	defer writer.Close()

	tracker := status.NewTracker(startTime, status.Config{
		PollMs:        cfg.Poll.Milliseconds(),
		LockoutMs:     cfg.Lockout.Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		QueueCapacity: cfg.QueueCapacity,
		ActiveLow:     cfg.ActiveLow,
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
	})
	disp := display.Multi{display.Log{}, tracker}

	queue := taskqueue.NewQueue(cfg.QueueCapacity)
	loop := control.New(control.Config{
		ActiveLow: cfg.ActiveLow,
		Lockout:   cfg.Lockout,
		Now:       time.Now,
	}, board, queue, reader, writer, tracker, startTime)
	// First tick drives every output to the open level.
	board.MarkDirty()

	// Credentials and Wi-Fi
	ctx := context.Background()
	store, err := credentials.OpenStore(ctx, cfg.Credentials.DBPath)
	if err != nil {
		log.Warn().Err(err).Msg("credential store unavailable")
	} else {
		defer store.Close()
	}
	wifi := network.NewNMCLI(cfg.Network.Interface, cfg.Network.ConnectTimeout, nil)
	boot := bootstrap{
		overrideFile: cfg.Credentials.OverrideFile,
		archive:      cfg.Credentials.ArchiveOverride,
		net:          wifi,
		disp:         disp,
	}
	if store != nil {
		boot.store = store
	}
	creds := boot.joinNetwork(ctx)
	if n := readNetworkInfo(); n != nil {
		tracker.SetNetwork(n)
	} else if !creds.Empty() {
		tracker.SetNetwork(&status.NetworkInfo{Type: "wifi", Status: linkStatus(wifi.IsConnected(ctx)), SSID: creds.SSID})
	}

	// Start HTTP server
	disp.Show("Setting up HTTP server...")
	srv := web.New(cfg.HTTP.Addr, tracker, loop, web.Options{RatePerSec: cfg.HTTP.RatePerSec, Burst: cfg.HTTP.Burst})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()
	defer srv.Shutdown(context.Background())
	log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")

	// Initialize MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, loop)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt disabled")
		} else {
			defer p.Close()
			publisher, mqttStatus = p, p
			loop.AddNotifier(mqtt.StateNotifier{
				Publisher: p,
				OnError:   func(err error) { log.Warn().Err(err).Msg("state publish error") },
			})
			tracker.SetMQTTConnected(p.IsConnected())
		}
	}

	// Schedules and housekeeping
	sched := schedule.New(time.Local)
	for _, s := range cfg.Schedules {
		if _, err := sched.AddRelay(s.Name, s.Cron, s.Circuit, s.Energize(), loop); err != nil {
			return err
		}
	}
	if !creds.Empty() {
		_, err := sched.AddEvery("wifi-check", cfg.Network.CheckInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Network.ConnectTimeout+5*time.Second)
			defer cancel()
			attempted, err := network.EnsureConnected(ctx, wifi, creds.SSID, creds.Password)
			if attempted {
				log.Info().Err(err).Str("ssid", creds.SSID).Msg("wifi not connected, reconnecting")
			}
		})
		if err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Warn().Err(err).Msg("failed to publish startup event")
		}
	}

	disp.Show("OK")
	log.Info().
		Int("relays", board.Len()).
		Dur("poll", cfg.Poll).
		Dur("lockout", cfg.Lockout).
		Int("queue_capacity", cfg.QueueCapacity).
		Bool("active_low", cfg.ActiveLow).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	watchdog, _ := daemon.SdWatchdogEnabled(false)
	sdNotify(daemon.SdNotifyReady)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop, publisher, mqttStatus, tracker, loopOptions{
		Heartbeat: cfg.Heartbeat,
		Watchdog:  watchdog / 2,
		Notify:    sdNotify,
	}, time.Now, ticker.C, sigCh)
}

// loopOptions holds the periodic duties of runLoop.
type loopOptions struct {
	Heartbeat time.Duration // 0 disables
	Watchdog  time.Duration // 0 disables
	Notify    func(state string)
}

func runLoop(loop *control.Loop, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, opts loopOptions, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	notify := opts.Notify
	if notify == nil {
		notify = func(string) {}
	}
	var lastPing time.Time

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			notify(daemon.SdNotifyStopping)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if publisher == nil {
				return nil
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refreshTracker(tracker, loop, mqttStatus)
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warn().Err(err).Msg("failed to publish shutdown event")
			} else {
				log.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			loop.Tick(t)

			if hb := loop.CheckHeartbeat(t, opts.Heartbeat); hb != nil {
				log.Info().
					Dur("uptime", hb.Uptime).
					Int64("executed", hb.Stats.Executed).
					Int64("rejected", hb.Stats.Rejected).
					Int("activations", hb.Stats.Buttons.Activations).
					Msg("heartbeat")

				if publisher != nil {
					hbEvent := mqtt.SystemEvent{
						Timestamp: hb.Timestamp,
						Event:     "HEARTBEAT",
					}
					if tracker != nil {
						refreshTracker(tracker, loop, mqttStatus)
						// Refresh network info for heartbeat
						if n := readNetworkInfo(); n != nil {
							tracker.SetNetwork(n)
						}
						hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
					}
					if err := publisher.PublishSystem(hbEvent); err != nil {
						log.Warn().Err(err).Msg("heartbeat publish error")
					}
				}
			}

			// Update status tracker for HTTP consumers
			if tracker != nil {
				refreshTracker(tracker, loop, mqttStatus)
			}

			if opts.Watchdog > 0 && t.Sub(lastPing) >= opts.Watchdog {
				notify(daemon.SdNotifyWatchdog)
				lastPing = t
			}
		}
	}
}

func refreshTracker(tracker *status.Tracker, loop *control.Loop, mqttStatus mqtt.ConnectionStatus) {
	tracker.Update(loop.Stats())
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func linkStatus(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func levelString(level int) string {
	if level == 0 {
		return "pressed"
	}
	return "released"
}
