// Package config loads relaybox daemon configuration.
//
// Values start from built-in defaults, are overlaid by an optional YAML file,
// then by RELAYBOX_* environment variables, and are finally validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/PiotrChr/RelayBoxController/internal/gpio"
)

// Config is the root configuration structure.
type Config struct {
	Relays        []RelayConfig     `yaml:"relays"`
	ActiveLow     bool              `yaml:"active_low"`
	GPIO          GPIOConfig        `yaml:"gpio"`
	Poll          time.Duration     `yaml:"poll"`
	Lockout       time.Duration     `yaml:"lockout"`
	QueueCapacity int               `yaml:"queue_capacity"`
	Heartbeat     time.Duration     `yaml:"heartbeat"`
	HTTP          HTTPConfig        `yaml:"http"`
	MQTT          MQTTConfig        `yaml:"mqtt"`
	Credentials   CredentialsConfig `yaml:"credentials"`
	Network       NetworkConfig     `yaml:"network"`
	Schedules     []ScheduleConfig  `yaml:"schedules"`
	Logging       LoggingConfig     `yaml:"logging"`
}

// RelayConfig describes one relay channel and its two buttons (BCM numbering).
type RelayConfig struct {
	Name         string `yaml:"name"`
	OutputPin    int    `yaml:"output_pin"`
	OnButtonPin  int    `yaml:"on_button_pin"`
	OffButtonPin int    `yaml:"off_button_pin"`
}

// GPIOConfig selects the character device.
type GPIOConfig struct {
	Chip string `yaml:"chip"`
}

// HTTPConfig contains the control server settings.
type HTTPConfig struct {
	Addr       string  `yaml:"addr"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// CredentialsConfig locates the persistent store and the bulk-config file.
type CredentialsConfig struct {
	DBPath       string `yaml:"db_path"`
	OverrideFile string `yaml:"override_file"`
	// ArchiveOverride renames a consumed override file to wifi_old.txt.
	ArchiveOverride bool `yaml:"archive_override"`
}

// NetworkConfig contains Wi-Fi join settings.
type NetworkConfig struct {
	Interface      string        `yaml:"interface"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ScheduleConfig is a cron-driven relay request.
type ScheduleConfig struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	Circuit int    `yaml:"circuit"`
	Action  string `yaml:"action"`
}

// Energize reports whether the schedule turns its relay on.
func (s ScheduleConfig) Energize() bool {
	return strings.EqualFold(s.Action, "enable")
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration of the stock four-channel board.
func Default() *Config {
	return &Config{
		Relays: []RelayConfig{
			{Name: "Circuit 1", OutputPin: 5, OnButtonPin: 17, OffButtonPin: 27},
			{Name: "Circuit 2", OutputPin: 6, OnButtonPin: 22, OffButtonPin: 23},
			{Name: "Circuit 3", OutputPin: 13, OnButtonPin: 24, OffButtonPin: 25},
			{Name: "Circuit 4", OutputPin: 19, OnButtonPin: 12, OffButtonPin: 16},
		},
		ActiveLow:     true,
		GPIO:          GPIOConfig{Chip: gpio.DefaultChip},
		Poll:          10 * time.Millisecond,
		Lockout:       2 * time.Second,
		QueueCapacity: 20,
		Heartbeat:     15 * time.Minute,
		HTTP: HTTPConfig{
			Addr:       ":80",
			RatePerSec: 5,
			Burst:      10,
		},
		MQTT: MQTTConfig{
			ClientID:    "relaybox",
			TopicPrefix: "home/relaybox",
		},
		Credentials: CredentialsConfig{
			DBPath:       "/var/lib/relaybox/relaybox.db",
			OverrideFile: "/boot/relaybox/wifi.txt",
		},
		Network: NetworkConfig{
			CheckInterval:  100 * time.Second,
			ConnectTimeout: 20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern RELAYBOX_SECTION_KEY.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RELAYBOX_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("RELAYBOX_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("RELAYBOX_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("RELAYBOX_CREDENTIALS_DB_PATH"); v != "" {
		cfg.Credentials.DBPath = v
	}
	if v := os.Getenv("RELAYBOX_CREDENTIALS_OVERRIDE_FILE"); v != "" {
		cfg.Credentials.OverrideFile = v
	}
	if v := os.Getenv("RELAYBOX_NETWORK_INTERFACE"); v != "" {
		cfg.Network.Interface = v
	}
	if v := os.Getenv("RELAYBOX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAYBOX_ACTIVE_LOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAYBOX_ACTIVE_LOW: %w", err)
		}
		cfg.ActiveLow = b
	}
	if v := os.Getenv("RELAYBOX_LOCKOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAYBOX_LOCKOUT: %w", err)
		}
		cfg.Lockout = d
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Relays) == 0 {
		errs = append(errs, "at least one relay is required")
	}
	pins := make(map[int]string)
	names := make(map[string]bool)
	for i, r := range c.Relays {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("relays[%d].name is required", i))
		} else if names[r.Name] {
			errs = append(errs, fmt.Sprintf("relays[%d].name %q is duplicated", i, r.Name))
		}
		names[r.Name] = true

		for _, p := range []struct {
			key string
			pin int
		}{
			{"output_pin", r.OutputPin},
			{"on_button_pin", r.OnButtonPin},
			{"off_button_pin", r.OffButtonPin},
		} {
			key := fmt.Sprintf("relays[%d].%s", i, p.key)
			if p.pin < 0 {
				errs = append(errs, key+" must not be negative")
				continue
			}
			if prev, ok := pins[p.pin]; ok {
				errs = append(errs, fmt.Sprintf("%s: pin %d already used by %s", key, p.pin, prev))
				continue
			}
			pins[p.pin] = key
		}
	}

	if c.Poll <= 0 {
		errs = append(errs, "poll must be positive")
	}
	if c.Lockout <= 0 {
		errs = append(errs, "lockout must be positive")
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, "queue_capacity must be at least 1")
	}
	if c.Heartbeat < 0 {
		errs = append(errs, "heartbeat must not be negative")
	}
	if c.HTTP.RatePerSec < 0 {
		errs = append(errs, "http.rate_per_sec must not be negative")
	}
	if c.Credentials.DBPath == "" {
		errs = append(errs, "credentials.db_path is required")
	}
	if c.Network.CheckInterval <= 0 {
		errs = append(errs, "network.check_interval must be positive")
	}
	if c.Network.ConnectTimeout <= 0 {
		errs = append(errs, "network.connect_timeout must be positive")
	}

	for i, s := range c.Schedules {
		key := fmt.Sprintf("schedules[%d]", i)
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("%s.cron: %v", key, err))
		}
		if s.Circuit < 0 || s.Circuit >= len(c.Relays) {
			errs = append(errs, fmt.Sprintf("%s.circuit %d out of range", key, s.Circuit))
		}
		switch strings.ToLower(s.Action) {
		case "enable", "disable":
		default:
			errs = append(errs, fmt.Sprintf("%s.action must be enable or disable", key))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, "logging.format must be console or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
