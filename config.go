package parol6

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"
)

// Defaults for Config.
const (
	DefaultPort                  = "/dev/ttyACM0"
	DefaultBaudrate              = 3000000
	DefaultListenIP              = "0.0.0.0"
	DefaultCommandPort           = 5001
	DefaultAckPort               = 5002
	DefaultMaxQueueSize          = 100
	DefaultMaxTrajectoryCommands = 10
	DefaultInterval              = 10 * time.Millisecond
	DefaultCommandCooldown       = 100 * time.Millisecond
	DefaultMotionSampleRateHz    = 20
	DefaultRecordingsDir         = "recordings"

	// AutoPort asks the controller to pick the first candidate serial port.
	AutoPort = "auto"
)

// Config configures the commander process.
type Config struct {
	// Serial link
	Port     string `json:"port,omitempty" yaml:"com_port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty" yaml:"baud_rate,omitempty"`

	// UDP
	ListenIP    string `json:"listen_ip,omitempty" yaml:"listen_ip,omitempty"`
	CommandPort int    `json:"command_port,omitempty" yaml:"command_port,omitempty"`
	AckPort     int    `json:"ack_port,omitempty" yaml:"ack_port,omitempty"`

	AutoHome bool `json:"auto_home,omitempty" yaml:"auto_home,omitempty"`

	MaxQueueSize          int `json:"max_queue_size,omitempty" yaml:"max_queue_size,omitempty"`
	MaxTrajectoryCommands int `json:"max_trajectory_commands,omitempty" yaml:"max_trajectory_commands,omitempty"`

	Interval        time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	CommandCooldown time.Duration `json:"command_cooldown,omitempty" yaml:"command_cooldown,omitempty"`

	MotionSampleRateHz int    `json:"motion_sample_rate_hz,omitempty" yaml:"motion_sample_rate_hz,omitempty"`
	RecordingsDir      string `json:"recordings_dir,omitempty" yaml:"recordings_dir,omitempty"`
}

// fileConfig mirrors the on-disk YAML layout, which nests the serial and
// network settings.
type fileConfig struct {
	Robot  Config `yaml:"robot" json:"robot"`
	Server struct {
		ListenIP    string `yaml:"listen_ip" json:"listen_ip"`
		CommandPort int    `yaml:"command_port" json:"command_port"`
		AckPort     int    `yaml:"ack_port" json:"ack_port"`
	} `yaml:"server" json:"server"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	// the zero config always validates
	_, _, _ = cfg.Validate("")
	return cfg
}

// Validate ensures all parts of the config are valid, filling in defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = DefaultBaudrate
	}
	if cfg.ListenIP == "" {
		cfg.ListenIP = DefaultListenIP
	}
	if cfg.CommandPort == 0 {
		cfg.CommandPort = DefaultCommandPort
	}
	if cfg.AckPort == 0 {
		cfg.AckPort = DefaultAckPort
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.MaxTrajectoryCommands == 0 {
		cfg.MaxTrajectoryCommands = DefaultMaxTrajectoryCommands
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CommandCooldown == 0 {
		cfg.CommandCooldown = DefaultCommandCooldown
	}
	if cfg.MotionSampleRateHz == 0 {
		cfg.MotionSampleRateHz = DefaultMotionSampleRateHz
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = DefaultRecordingsDir
	}

	switch {
	case cfg.Baudrate < 0:
		return nil, nil, errors.Errorf("%s: baudrate must be positive, got %d", path, cfg.Baudrate)
	case cfg.CommandPort < 0 || cfg.CommandPort > 65535:
		return nil, nil, errors.Errorf("%s: invalid command_port %d", path, cfg.CommandPort)
	case cfg.AckPort < 0 || cfg.AckPort > 65535:
		return nil, nil, errors.Errorf("%s: invalid ack_port %d", path, cfg.AckPort)
	case cfg.MaxQueueSize < 0 || cfg.MaxTrajectoryCommands < 0:
		return nil, nil, errors.Errorf("%s: queue limits must be positive", path)
	case cfg.MaxTrajectoryCommands > cfg.MaxQueueSize:
		return nil, nil, errors.Errorf("%s: max_trajectory_commands (%d) exceeds max_queue_size (%d)",
			path, cfg.MaxTrajectoryCommands, cfg.MaxQueueSize)
	case cfg.Interval < 0 || cfg.CommandCooldown < 0:
		return nil, nil, errors.Errorf("%s: interval and command_cooldown must be positive", path)
	}
	return nil, nil, nil
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON config file and validates it.
// A missing file yields the defaults.
func LoadConfig(path string, logger logging.Logger) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warnf("Config file %s not found, using defaults", path)
			}
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	cfg := fc.Robot
	if fc.Server.ListenIP != "" {
		cfg.ListenIP = fc.Server.ListenIP
	}
	if fc.Server.CommandPort != 0 {
		cfg.CommandPort = fc.Server.CommandPort
	}
	if fc.Server.AckPort != 0 {
		cfg.AckPort = fc.Server.AckPort
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Infof("Loaded config from %s", path)
	}
	return &cfg, nil
}
