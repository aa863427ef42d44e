package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaybox.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Relays) != 4 {
		t.Errorf("Relays = %d, want 4", len(cfg.Relays))
	}
	if cfg.Lockout != 2*time.Second {
		t.Errorf("Lockout = %v, want 2s", cfg.Lockout)
	}
	if cfg.QueueCapacity != 20 {
		t.Errorf("QueueCapacity = %d, want 20", cfg.QueueCapacity)
	}
	if !cfg.ActiveLow {
		t.Error("ActiveLow = false, want true")
	}
	if cfg.Network.CheckInterval != 100*time.Second {
		t.Errorf("Network.CheckInterval = %v, want 100s", cfg.Network.CheckInterval)
	}
	if cfg.Network.ConnectTimeout != 20*time.Second {
		t.Errorf("Network.ConnectTimeout = %v, want 20s", cfg.Network.ConnectTimeout)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("MQTT.Broker = %q, want disabled by default", cfg.MQTT.Broker)
	}
	if cfg.GPIO.Chip != "gpiochip0" {
		t.Errorf("GPIO.Chip = %q, want gpiochip0", cfg.GPIO.Chip)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
relays:
  - name: "Pump"
    output_pin: 5
    on_button_pin: 17
    off_button_pin: 27
  - name: "Lights"
    output_pin: 6
    on_button_pin: 22
    off_button_pin: 23
active_low: false
poll: "20ms"
lockout: "1500ms"
queue_capacity: 8
http:
  addr: ":8080"
  rate_per_sec: 2
  burst: 4
mqtt:
  broker: "tcp://localhost:1883"
  topic_prefix: "garden/relays"
schedules:
  - name: "night-off"
    cron: "0 23 * * *"
    circuit: 1
    action: disable
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Relays) != 2 {
		t.Fatalf("Relays = %d, want 2 (file replaces defaults)", len(cfg.Relays))
	}
	if cfg.Relays[0].Name != "Pump" || cfg.Relays[1].OffButtonPin != 23 {
		t.Errorf("Relays = %+v", cfg.Relays)
	}
	if cfg.ActiveLow {
		t.Error("ActiveLow = true, want false")
	}
	if cfg.Poll != 20*time.Millisecond {
		t.Errorf("Poll = %v, want 20ms", cfg.Poll)
	}
	if cfg.Lockout != 1500*time.Millisecond {
		t.Errorf("Lockout = %v, want 1.5s", cfg.Lockout)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.Burst != 4 {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.MQTT.ClientID != "relaybox" {
		t.Errorf("MQTT.ClientID = %q, want default kept", cfg.MQTT.ClientID)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Energize() {
		t.Errorf("Schedules = %+v", cfg.Schedules)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/relaybox.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "relays: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected parse error, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAYBOX_MQTT_BROKER", "tcp://env:1883")
	t.Setenv("RELAYBOX_HTTP_ADDR", ":9090")
	t.Setenv("RELAYBOX_ACTIVE_LOW", "false")
	t.Setenv("RELAYBOX_LOCKOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker != "tcp://env:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.ActiveLow {
		t.Error("ActiveLow = true, want false from env")
	}
	if cfg.Lockout != 3*time.Second {
		t.Errorf("Lockout = %v, want 3s", cfg.Lockout)
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("RELAYBOX_LOCKOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for bad RELAYBOX_LOCKOUT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no relays", func(c *Config) { c.Relays = nil }, "at least one relay"},
		{"duplicate pin", func(c *Config) { c.Relays[1].OnButtonPin = 5 }, "pin 5 already used"},
		{"duplicate name", func(c *Config) { c.Relays[1].Name = "Circuit 1" }, "duplicated"},
		{"zero lockout", func(c *Config) { c.Lockout = 0 }, "lockout must be positive"},
		{"zero capacity", func(c *Config) { c.QueueCapacity = 0 }, "queue_capacity"},
		{"bad cron", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "x", Cron: "every day", Circuit: 0, Action: "enable"}}
		}, "schedules[0].cron"},
		{"schedule circuit", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "x", Cron: "@daily", Circuit: 4, Action: "enable"}}
		}, "out of range"},
		{"schedule action", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "x", Cron: "@hourly", Circuit: 0, Action: "toggle"}}
		}, "action must be"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
