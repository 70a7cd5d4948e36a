package config

import (
	"fmt"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Speed  int    `yaml:"speed"`
	// Parity is one of none, odd or even
	Parity string `yaml:"parity"`
	// Input replays a capture file instead of reading the device
	Input string `yaml:"input"`
}

type DecoderConfig struct {
	MaxFrameLength int           `yaml:"max_frame_length"`
	MaxDepth       int           `yaml:"max_depth"`
	FrameTimeout   time.Duration `yaml:"frame_timeout"`
}

type DispatchConfig struct {
	ShortFrameOwnSlot bool `yaml:"short_frame_own_slot"`
}

type MQTTConfig struct {
	// Disable only logs fields, nothing is published
	Disable      bool   `yaml:"disable"`
	Topic        string `yaml:"topic"`
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	// SerialNumber announces the device before the meter sent its ID
	SerialNumber string `yaml:"serial_number"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is text or json
	Format        string        `yaml:"format"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyUSB0"
	}
	if cfg.Serial.Speed == 0 {
		cfg.Serial.Speed = 2400
	}
	if cfg.Serial.Speed < 0 {
		return fmt.Errorf("serial.speed must be > 0")
	}
	switch cfg.Serial.Parity {
	case "":
		cfg.Serial.Parity = "even"
	case "none", "odd", "even":
	default:
		return fmt.Errorf("serial.parity must be one of none, odd, even")
	}

	if cfg.Decoder.MaxFrameLength == 0 {
		cfg.Decoder.MaxFrameLength = 1024
	}
	// 11 bits of length in the frame format
	if cfg.Decoder.MaxFrameLength < 7 || cfg.Decoder.MaxFrameLength > 0x7ff {
		return fmt.Errorf("decoder.max_frame_length must be between 7 and 2047")
	}
	if cfg.Decoder.MaxDepth == 0 {
		cfg.Decoder.MaxDepth = 8
	}
	if cfg.Decoder.MaxDepth < 0 {
		return fmt.Errorf("decoder.max_depth must be > 0")
	}
	if cfg.Decoder.FrameTimeout == 0 {
		cfg.Decoder.FrameTimeout = 2 * time.Second
	}
	if cfg.Decoder.FrameTimeout < 0 {
		return fmt.Errorf("decoder.frame_timeout must be > 0")
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "powerMeter/house"
	}
	if cfg.MQTT.Name == "" {
		cfg.MQTT.Name = "House Power Meter"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if cfg.Log.StatsInterval == 0 {
		cfg.Log.StatsInterval = 15 * time.Minute
	}
	return nil
}

// Logger configures l from the log section.
func (c LogConfig) Logger(l *logrus.Logger) {
	lvl, err := logrus.ParseLevel(c.Level)
	if err == nil {
		l.SetLevel(lvl)
	}
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
