package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
)

// Config holds the settings shared by the larmvakt binaries.
type Config struct {
	// DeviceID uniquely identifies this device on the shared relay.
	DeviceID string `yaml:"device_id"`
	// DeviceName is the human-readable label shown in history entries.
	DeviceName string `yaml:"device_name"`
	// TrustedSender is the sender identifier dispatch messages must come from.
	TrustedSender string `yaml:"trusted_sender"`
	// Relay configures the shared Redis-backed event store.
	Relay RelayConfig `yaml:"relay"`
	// Ingest configures how raw dispatch messages reach this device.
	Ingest IngestConfig `yaml:"ingest"`
	// Monitor holds the initial monitoring settings.
	Monitor domain.Settings `yaml:"monitor"`
	// HistoryFile is the path of the local alarm history snapshot.
	HistoryFile string `yaml:"history_file"`
	// SoundCommand is the command run to play the alarm sound locally.
	// Empty disables local playback (notifications are still posted).
	SoundCommand []string `yaml:"sound_command,omitempty"`
	// Timeout is the duration for network operations.
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig holds connection parameters for the shared event store.
type RelayConfig struct {
	// Addr is the Redis server address (host:port). Empty means offline mode.
	Addr string `yaml:"addr"`
	// Password authenticates against the Redis server when set.
	Password string `yaml:"password,omitempty"`
	// DB selects the Redis logical database.
	DB int `yaml:"db"`
	// Stream is the key prefix under which alarm events are stored.
	Stream string `yaml:"stream"`
}

// IngestConfig selects and configures the raw message source.
type IngestConfig struct {
	// BrokerURL is the MQTT broker the SMS gateway forwards messages to.
	// Empty disables the MQTT source.
	BrokerURL string `yaml:"broker_url,omitempty"`
	// Topic is the MQTT topic carrying forwarded dispatch messages.
	Topic string `yaml:"topic,omitempty"`
	// Username and Password authenticate against the broker when set.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// SpoolDir is a drop directory polled for raw message files when no
	// broker is configured (push delivery unavailable).
	SpoolDir string `yaml:"spool_dir,omitempty"`
	// PollInterval is the spool polling interval.
	PollInterval time.Duration `yaml:"poll_interval"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "larmvakt-settings.yaml"

	// DefaultHistoryFilename is the default filename for the history snapshot.
	DefaultHistoryFilename = "larmvakt-history.json"

	// DefaultTrustedSender is the dispatch center's sender identifier.
	DefaultTrustedSender = "3315"

	// DefaultRelayStream is the default key prefix for relay events.
	DefaultRelayStream = "larmvakt:alarms"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is the default spool polling interval.
	DefaultPollInterval = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errDeviceIDRequired is returned when the device identifier is missing.
	errDeviceIDRequired = errors.New("device id must be provided")
	// errScheduleInvalid is returned when the schedule window is out of range.
	errScheduleInvalid = errors.New("schedule window minutes must be within 0..1439")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.DeviceID == "" {
		return errDeviceIDRequired
	}

	if cfg.TrustedSender == "" {
		cfg.TrustedSender = DefaultTrustedSender
	}

	if cfg.Relay.Addr != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Relay.Addr); err != nil {
			return fmt.Errorf("invalid relay address: %w", err)
		}
	}

	if cfg.Relay.Stream == "" {
		cfg.Relay.Stream = DefaultRelayStream
	}

	if cfg.Monitor.Schedule != nil && !cfg.Monitor.Schedule.Valid() {
		return errScheduleInvalid
	}

	if cfg.Monitor.Mode == "" {
		cfg.Monitor.Mode = domain.ModePassive
	}

	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFilename
	}

	if cfg.Ingest.PollInterval <= 0 {
		cfg.Ingest.PollInterval = DefaultPollInterval
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return nil
}
