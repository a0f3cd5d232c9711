package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ErrNotFound is returned by Load when no config file exists.
var ErrNotFound = errors.New("config file not found")

// Sample is written by `thsw init` and printed when no config exists.
const Sample = `[location]
latitude=51.1740
longitude=-1.8224
; utc_offset=0 (hours, defaults to the host time zone)

[commands]
; Here you can actually set any command
; you want to be executed during sunrise or sunset
day=xfconf-query -c xsettings -p /Net/ThemeName -s Adapta-Eta-Maia
night=xfconf-query -c xsettings -p /Net/ThemeName -s Adapta-Nokto-Maia

[scheduler]
interval=10m
dry_run=false

[api]
enabled=false
port=8046

[mqtt]
enabled=false
broker=tcp://localhost:1883
client_id=thsw
topic_prefix=thsw

[log]
level=info
`

type Config struct {
	Location  LocationConfig  `mapstructure:"location"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`
}

type LocationConfig struct {
	Latitude  *float64 `mapstructure:"latitude"`
	Longitude *float64 `mapstructure:"longitude"`
	// UTCOffset in hours. Nil follows the host time zone.
	UTCOffset *float64 `mapstructure:"utc_offset"`
}

type CommandsConfig struct {
	Day   string `mapstructure:"day"`
	Night string `mapstructure:"night"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	DryRun   bool          `mapstructure:"dry_run"`
}

type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultDir is $HOME/.config/thsw, or the current directory when HOME
// is not set.
func DefaultDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".config", "thsw")
}

// DefaultPath is the config file used when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.ini")
}

// Load reads the config at configPath, or DefaultPath when empty. The
// format follows the file extension.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("ini")
	}

	// Set defaults
	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.dry_run", false)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8046)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "thsw")
	v.SetDefault("mqtt.client_id", "thsw")
	v.SetDefault("log.level", "info")

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, configPath)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Location.Latitude == nil {
		errs = append(errs, errors.New("location.latitude is required"))
	}
	if c.Location.Longitude == nil {
		errs = append(errs, errors.New("location.longitude is required"))
	}
	if c.Commands.Day == "" {
		errs = append(errs, errors.New("commands.day is required"))
	}
	if c.Commands.Night == "" {
		errs = append(errs, errors.New("commands.night is required"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval))
	}
	return errors.Join(errs...)
}

// WriteSample creates path and its directory with the sample config. An
// existing file is left untouched.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(Sample); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
