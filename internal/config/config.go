package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings of the drowsiness monitor.
type Config struct {
	// Camera selects the frame source.
	Camera Camera `yaml:"camera"`
	// Detection tunes the eye detector and the openness classifier.
	Detection Detection `yaml:"detection"`
	// Monitor tunes the closure debounce and the tick cadence.
	Monitor Monitor `yaml:"monitor"`
	// Alarm selects the alarm asset and playback backend.
	Alarm Alarm `yaml:"alarm"`
	// Display controls the preview window.
	Display Display `yaml:"display"`
	// Status configures the gRPC health endpoint.
	Status Status `yaml:"status"`
	// Journal configures the incident journal.
	Journal Journal `yaml:"journal"`
	// Events configures external publication of alarm events.
	Events Events `yaml:"events"`
	// Logging configures log level and optional file output.
	Logging Logging `yaml:"logging"`
}

// Camera selects the capture device.
type Camera struct {
	// Device is a camera index ("0"), a video file path or a stream URL.
	Device string `yaml:"device"`
	// Mirror flips frames horizontally before detection.
	Mirror bool `yaml:"mirror"`
}

// Detection holds the cascade detector parameters.
type Detection struct {
	// CascadeFile is the Haar cascade model used to find eyes.
	CascadeFile string `yaml:"cascade_file"`
	// ScaleFactor is the image pyramid step of the cascade search.
	ScaleFactor float64 `yaml:"scale_factor"`
	// MinNeighbors is the number of overlapping hits a region needs.
	MinNeighbors int `yaml:"min_neighbors"`
	// MinSize is the smallest accepted region side in pixels.
	MinSize int `yaml:"min_size"`
	// OpenRatio is the height/width ratio above which an eye is open.
	OpenRatio float64 `yaml:"open_ratio"`
}

// Monitor holds timing settings of the detection loop.
type Monitor struct {
	// Hold is how long all eyes must stay closed before the alarm fires.
	Hold time.Duration `yaml:"hold"`
	// TickInterval is the period of the detection loop.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Alarm holds alarm playback settings.
type Alarm struct {
	// Asset is the WAV file played when the alarm fires.
	Asset string `yaml:"asset"`
	// Backend is the playback backend: "command" or "speaker".
	Backend string `yaml:"backend"`
}

// Display controls the preview window.
type Display struct {
	// Enabled shows annotated frames in a window.
	Enabled bool `yaml:"enabled"`
	// WindowTitle is the title of the preview window.
	WindowTitle string `yaml:"window_title"`
}

// Status configures the gRPC health endpoint.
type Status struct {
	// ListenAddress is where the health service listens. Empty disables it.
	ListenAddress string `yaml:"listen_address"`
}

// Journal configures the incident journal.
type Journal struct {
	// File is the JSON Lines file incidents are appended to. Empty disables it.
	File string `yaml:"file"`
}

// Events configures publication of alarm events.
type Events struct {
	// RedisAddress enables publishing to Redis when set.
	RedisAddress string `yaml:"redis_address"`
	// RedisPassword authenticates against Redis.
	RedisPassword string `yaml:"redis_password"`
	// RedisDB selects the Redis database.
	RedisDB int `yaml:"redis_db"`
	// Channel is the Redis pub/sub channel.
	Channel string `yaml:"channel"`
}

// Logging configures log output.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// File mirrors logs into a rotating file when set.
	File string `yaml:"file"`
}

const (
	// DefaultConfigFilename is the default filename for monitor settings.
	DefaultConfigFilename = "drowsy-alarm-settings.yaml"

	// DefaultDevice is the first system camera.
	DefaultDevice = "0"
	// DefaultCascadeFile is the stock OpenCV eye cascade.
	DefaultCascadeFile = "haarcascade_eye.xml"
	// DefaultScaleFactor is the cascade pyramid step.
	DefaultScaleFactor = 1.1
	// DefaultMinNeighbors is the cascade neighbour threshold.
	DefaultMinNeighbors = 10
	// DefaultMinSize is the smallest eye region side in pixels.
	DefaultMinSize = 30
	// DefaultOpenRatio is the openness threshold of the height/width ratio.
	DefaultOpenRatio = 0.2

	// DefaultHold is the sustained-closure duration that fires the alarm.
	DefaultHold = time.Second
	// DefaultTickInterval is the detection loop period (~30 Hz).
	DefaultTickInterval = 33 * time.Millisecond

	// DefaultAlarmAsset is the alarm sound played on sustained closure.
	DefaultAlarmAsset = "alarm.wav"
	// BackendCommand plays the alarm through the platform audio player.
	BackendCommand = "command"
	// BackendSpeaker plays the alarm through the in-process speaker.
	BackendSpeaker = "speaker"

	// DefaultWindowTitle is the title of the preview window.
	DefaultWindowTitle = "Drowsiness monitor"
	// DefaultStatusAddress is the loopback address of the health endpoint.
	DefaultStatusAddress = "127.0.0.1:50061"
	// DefaultJournalFile is the default incident journal.
	DefaultJournalFile = "drowsy-alarm-incidents.jsonl"
	// DefaultEventsChannel is the Redis channel for alarm events.
	DefaultEventsChannel = "drowsy-alarm.events"
	// DefaultLogLevel is the log level used when none is configured.
	DefaultLogLevel = "info"

	// DefaultTimeout is the per-call timeout of status queries.
	DefaultTimeout = 5 * time.Second
	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidScaleFactor is returned when the pyramid step would not shrink the image.
	errInvalidScaleFactor = errors.New("scale factor must be greater than 1")
	// errInvalidOpenRatio is returned for a non-positive openness threshold.
	errInvalidOpenRatio = errors.New("open ratio must be positive")
	// errInvalidDetectionBounds is returned for negative neighbour counts or sizes.
	errInvalidDetectionBounds = errors.New("min neighbors and min size must not be negative")
	// errInvalidTiming is returned for negative hold or tick durations.
	errInvalidTiming = errors.New("hold and tick interval must not be negative")
	// errUnknownBackend is returned for an unsupported audio backend.
	errUnknownBackend = errors.New("unknown alarm backend")
)

// Default returns a configuration with every setting at its default value.
func Default() *Config {
	cfg := base()

	// Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// base holds the defaults a settings file can switch off with an empty value.
func base() *Config {
	return &Config{
		Display: Display{Enabled: true},
		Status:  Status{ListenAddress: DefaultStatusAddress},
		Journal: Journal{File: DefaultJournalFile},
	}
}

// Load reads configuration from the provided path and validates it.
// A missing file at the default path yields the default configuration.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := base()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
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

	// Restrict permissions, the file may hold the Redis password.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills unset values with defaults.
//
//nolint:cyclop,funlen // A flat list of defaults reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(settings.Camera.Device) == "" {
		settings.Camera.Device = DefaultDevice
	}

	detection := &settings.Detection
	if detection.CascadeFile == "" {
		detection.CascadeFile = DefaultCascadeFile
	}

	switch {
	case detection.ScaleFactor == 0:
		detection.ScaleFactor = DefaultScaleFactor
	case detection.ScaleFactor <= 1:
		return fmt.Errorf("%w: %v", errInvalidScaleFactor, detection.ScaleFactor)
	}

	if detection.MinNeighbors < 0 || detection.MinSize < 0 {
		return errInvalidDetectionBounds
	}

	if detection.MinNeighbors == 0 {
		detection.MinNeighbors = DefaultMinNeighbors
	}

	if detection.MinSize == 0 {
		detection.MinSize = DefaultMinSize
	}

	switch {
	case detection.OpenRatio == 0:
		detection.OpenRatio = DefaultOpenRatio
	case detection.OpenRatio < 0:
		return fmt.Errorf("%w: %v", errInvalidOpenRatio, detection.OpenRatio)
	}

	if settings.Monitor.Hold < 0 || settings.Monitor.TickInterval < 0 {
		return errInvalidTiming
	}

	if settings.Monitor.Hold == 0 {
		settings.Monitor.Hold = DefaultHold
	}

	if settings.Monitor.TickInterval == 0 {
		settings.Monitor.TickInterval = DefaultTickInterval
	}

	if settings.Alarm.Asset == "" {
		settings.Alarm.Asset = DefaultAlarmAsset
	}

	switch settings.Alarm.Backend {
	case "":
		settings.Alarm.Backend = BackendCommand
	case BackendCommand, BackendSpeaker:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, settings.Alarm.Backend)
	}

	if settings.Display.WindowTitle == "" {
		settings.Display.WindowTitle = DefaultWindowTitle
	}

	if settings.Status.ListenAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.Status.ListenAddress); err != nil {
			return fmt.Errorf("invalid status listen address: %w", err)
		}
	}

	if settings.Events.Channel == "" {
		settings.Events.Channel = DefaultEventsChannel
	}

	if settings.Logging.Level == "" {
		settings.Logging.Level = DefaultLogLevel
	}

	return nil
}
