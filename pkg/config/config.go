// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads poolstat settings from a YAML file. Every section
// has usable defaults, so an empty or missing file yields a working
// single-pump setup on /dev/ttyUSB0.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML file
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Bus         BusConfig         `yaml:"bus"`
	Retry       RetryConfig       `yaml:"retry"`
	Pumps       PumpsConfig       `yaml:"pumps"`
	Chlorinator ChlorinatorConfig `yaml:"chlorinator"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SerialConfig selects the transport. URL takes precedence over Port.
type SerialConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	DataBits    int    `yaml:"dataBits"`
	Parity      string `yaml:"parity"`
	StopBits    int    `yaml:"stopBits"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"noSslVerify"`
}

// BusConfig holds our identity on the bus and queue limits
type BusConfig struct {
	AppAddress        int           `yaml:"appAddress"`
	ControllerVersion int           `yaml:"controllerVersion"`
	Debounce          time.Duration `yaml:"debounce"`
	MaxQueueLength    int           `yaml:"maxQueueLength"`
}

// RetryConfig mirrors link.RetryPolicy
type RetryConfig struct {
	AckTimeout    time.Duration `yaml:"ackTimeout"`
	WarnAfter     int           `yaml:"warnAfter"`
	AbandonAfter  int           `yaml:"abandonAfter"`
	VerboseWindow time.Duration `yaml:"verboseWindow"`
}

// PumpsConfig lists installed pumps
type PumpsConfig struct {
	Installed []int         `yaml:"installed"`
	Tick      time.Duration `yaml:"tick"`
	KeepAlive bool          `yaml:"keepAlive"`
}

// ChlorinatorConfig configures the chlorinator and the levels applied at
// startup by the run and bridge commands
type ChlorinatorConfig struct {
	Installed       bool          `yaml:"installed"`
	ControlledBy    string        `yaml:"controlledBy"`
	Body            string        `yaml:"body"`
	KeepAlive       time.Duration `yaml:"keepAlive"`
	Pool            int           `yaml:"pool"`
	Spa             int           `yaml:"spa"`
	SuperChlorinate int           `yaml:"superChlorinate"`
	ApplyOnStart    bool          `yaml:"applyOnStart"`
}

// MQTTConfig configures the bridge command
type MQTTConfig struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"clientId"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Prefix          string        `yaml:"prefix"`
	QoS             int           `yaml:"qos"`
	PublishInterval time.Duration `yaml:"publishInterval"`
	PublishFrames   bool          `yaml:"publishFrames"`
}

// LoggingConfig configures logrus
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Frames     bool   `yaml:"frames"`
	Duplicates bool   `yaml:"duplicates"`
}

// Default returns the built-in configuration
func Default() *Config {
	s := link.DefaultSettings()
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			Baud:     9600,
			DataBits: 8,
			Parity:   "none",
			StopBits: 1,
		},
		Bus: BusConfig{
			AppAddress:        int(s.AppAddress),
			ControllerVersion: int(s.ControllerVersion),
			Debounce:          s.Debounce,
			MaxQueueLength:    s.MaxQueueLength,
		},
		Retry: RetryConfig{
			AckTimeout:    s.Retry.AckTimeout,
			WarnAfter:     s.Retry.WarnAfter,
			AbandonAfter:  s.Retry.AbandonAfter,
			VerboseWindow: s.Retry.VerboseWindow,
		},
		Pumps: PumpsConfig{
			Installed: append([]int(nil), s.Pumps...),
			Tick:      s.PumpTick,
			KeepAlive: s.PumpKeepAlive,
		},
		Chlorinator: ChlorinatorConfig{
			Installed:    s.Chlorinator.Installed,
			ControlledBy: string(s.Chlorinator.ControlledBy),
			Body:         string(s.Chlorinator.Body),
			KeepAlive:    s.Chlorinator.KeepAlive,
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			ClientID:        "poolstat",
			Prefix:          "poolstat",
			QoS:             1,
			PublishInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes the configuration as YAML
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// Environment variables read by ApplyEnv
const (
	EnvPort         = "POOLSTAT_PORT"
	EnvURL          = "POOLSTAT_URL"
	EnvLogLevel     = "POOLSTAT_LOG_LEVEL"
	EnvMQTTBroker   = "POOLSTAT_MQTT_BROKER"
	EnvMQTTUser     = "POOLSTAT_MQTT_USER"
	EnvMQTTPassword = "POOLSTAT_MQTT_PASSWORD"
	EnvAppAddress   = "POOLSTAT_APP_ADDRESS"

	// EnvPassword holds the websocket Basic auth password. It is read by
	// the CLI at connect time and never stored in the file.
	EnvPassword = "POOLSTAT_PASSWORD"
)

// ApplyEnv overrides file values from the environment
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv(EnvURL); v != "" {
		c.Serial.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvMQTTUser); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(EnvAppAddress); v != "" {
		addr, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAppAddress, err)
		}
		c.Bus.AppAddress = int(addr)
	}
	return c.Validate()
}

// Validate checks every section
func (c *Config) Validate() error {
	if _, err := c.Serial.Mode(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Bus.AppAddress < 0 || c.Bus.AppAddress > 0xFF {
		return fmt.Errorf("bus.appAddress %d is not a byte", c.Bus.AppAddress)
	}
	if c.Bus.ControllerVersion < 0 || c.Bus.ControllerVersion > 0xFF {
		return fmt.Errorf("bus.controllerVersion %d is not a byte", c.Bus.ControllerVersion)
	}
	if err := c.LinkSettings().Validate(); err != nil {
		return err
	}
	if c.Chlorinator.Installed {
		ch := c.Chlorinator
		if ch.Pool < 0 || ch.Pool > poolbus.MaxChlorPercent || ch.Spa < 0 || ch.Spa > poolbus.MaxChlorPercent {
			return fmt.Errorf("chlorinator levels must be between 0 and %d", poolbus.MaxChlorPercent)
		}
		if ch.SuperChlorinate < 0 || ch.SuperChlorinate > poolbus.MaxSuperHours {
			return fmt.Errorf("chlorinator.superChlorinate must be between 0 and %d", poolbus.MaxSuperHours)
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d: use 0, 1 or 2", c.MQTT.QoS)
	}
	if c.MQTT.PublishInterval < 0 {
		return fmt.Errorf("mqtt.publishInterval must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// LinkSettings converts the file sections into link.Settings
func (c *Config) LinkSettings() link.Settings {
	return link.Settings{
		AppAddress:        byte(c.Bus.AppAddress),
		ControllerVersion: byte(c.Bus.ControllerVersion),
		Debounce:          c.Bus.Debounce,
		MaxQueueLength:    c.Bus.MaxQueueLength,
		Retry: link.RetryPolicy{
			AckTimeout:    c.Retry.AckTimeout,
			WarnAfter:     c.Retry.WarnAfter,
			AbandonAfter:  c.Retry.AbandonAfter,
			VerboseWindow: c.Retry.VerboseWindow,
		},
		PumpTick:      c.Pumps.Tick,
		PumpKeepAlive: c.Pumps.KeepAlive,
		Pumps:         append([]int(nil), c.Pumps.Installed...),
		Chlorinator: link.ChlorinatorSettings{
			Installed:    c.Chlorinator.Installed,
			ControlledBy: link.ControlMode(c.Chlorinator.ControlledBy),
			Body:         link.Body(c.Chlorinator.Body),
			KeepAlive:    c.Chlorinator.KeepAlive,
		},
		LogFrames:     c.Logging.Frames,
		LogDuplicates: c.Logging.Duplicates,
	}
}

// LogLevel returns the parsed logging level
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Mode returns the serial port mode
func (s SerialConfig) Mode() (*serial.Mode, error) {
	if s.Baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", s.Baud)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: use 5 to 8", s.DataBits)
	}
	parity, err := ParseParity(s.Parity)
	if err != nil {
		return nil, err
	}
	stop, err := ParseStopBits(s.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: s.Baud,
		DataBits: s.DataBits,
		Parity:   parity,
		StopBits: stop,
	}, nil
}

// ParseParity converts a parity name to a serial.Parity
func ParseParity(s string) (serial.Parity, error) {
	switch s {
	case "none", "":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s)
	}
}

// ParseStopBits converts a stop bit count to serial.StopBits
func ParseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %d: use 1 or 2", n)
	}
}
