package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/sensor"
)

type Config struct {
	Fusion  FusionConfig  `yaml:"fusion"`
	Source  SourceConfig  `yaml:"source"`
	Probe   ProbeConfig   `yaml:"probe"`
	Heading HeadingConfig `yaml:"heading"`
	Web     WebConfig     `yaml:"web"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	GDL90   GDL90Config   `yaml:"gdl90"`
}

type FusionConfig struct {
	SampleRateHz float64 `yaml:"sample_rate_hz"`
	Algorithm    string  `yaml:"algorithm"`
	Beta         float64 `yaml:"beta"`
	Kp           float64 `yaml:"kp"`
	Ki           float64 `yaml:"ki"`
	Initialize   bool    `yaml:"initialize"`
}

type SourceConfig struct {
	// Kind is one of sim, mqtt, icm20948, replay.
	Kind     string         `yaml:"kind"`
	Sim      SimConfig      `yaml:"sim"`
	ICM20948 ICM20948Config `yaml:"icm20948"`
	Replay   ReplayConfig   `yaml:"replay"`
	// Record, when set, writes every delivered sample to this log file.
	Record string `yaml:"record"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SimConfig struct {
	// Unavailable channels fail on subscribe (channel names or sensor aliases).
	Unavailable []string `yaml:"unavailable"`
	// Period is one full turn of the simulated device about its vertical axis.
	Period  time.Duration `yaml:"period"`
	TiltDeg float64       `yaml:"tilt_deg"`
	// Noise is the standard deviation added to every axis, in sensor units.
	Noise float64 `yaml:"noise"`
	Seed  int64   `yaml:"seed"`
}

type ICM20948Config struct {
	I2CBus  int    `yaml:"i2c_bus"`
	Address uint16 `yaml:"address"`
	// DRDYEnable drives sampling from the chip's INT pin instead of a ticker.
	DRDYEnable bool   `yaml:"drdy_enable"`
	DRDYChip   string `yaml:"drdy_chip"`
	DRDYLine   int    `yaml:"drdy_line"`
}

type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	OnStart bool          `yaml:"on_start"`
}

type HeadingConfig struct {
	// Source is magnetometer or orientation.
	Source string `yaml:"source"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	// Publish sends every snapshot to <topic_prefix>/fusion.
	Publish bool `yaml:"publish"`
}

type GDL90Config struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Fusion: FusionConfig{
			SampleRateHz: 60,
			Algorithm:    "Madgwick",
			Beta:         0.4,
			Kp:           0.5,
			Ki:           0,
			Initialize:   true,
		},
		Source: SourceConfig{
			Kind: "sim",
			Sim: SimConfig{
				Period:  60 * time.Second,
				TiltDeg: 10,
				Seed:    1,
			},
			ICM20948: ICM20948Config{
				I2CBus:   1,
				Address:  0x68,
				DRDYChip: "gpiochip0",
			},
			Replay: ReplayConfig{Speed: 1},
		},
		Probe:   ProbeConfig{Timeout: 2 * time.Second, OnStart: true},
		Heading: HeadingConfig{Source: "magnetometer"},
		Web:     WebConfig{Enable: true, Listen: ":8080"},
		MQTT:    MQTTConfig{TopicPrefix: "sensorfusion"},
		GDL90:   GDL90Config{Dest: "127.0.0.1:4000", Interval: 200 * time.Millisecond},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown fields are
// rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, unknownFieldsError(te)
		}
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var yamlLinePrefix = regexp.MustCompile(`^line \d+: `)

func unknownFieldsError(te *yaml.TypeError) error {
	msgs := make([]string, 0, len(te.Errors))
	unknown := true
	for _, e := range te.Errors {
		if !strings.Contains(e, "not found in type") {
			unknown = false
		}
		msgs = append(msgs, yamlLinePrefix.ReplaceAllString(e, ""))
	}
	if !unknown {
		return te
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
}

func (c Config) Validate() error {
	f := c.Fusion
	if !(f.SampleRateHz > 0) || f.SampleRateHz > 1000 {
		return fmt.Errorf("fusion.sample_rate_hz must be in (0, 1000]")
	}
	if _, err := ahrs.ParseAlgorithm(f.Algorithm); err != nil {
		return fmt.Errorf("fusion.algorithm must be 'Madgwick' or 'Mahony'")
	}
	if f.Beta < 0 {
		return fmt.Errorf("fusion.beta must be >= 0")
	}
	if f.Kp < 0 {
		return fmt.Errorf("fusion.kp must be >= 0")
	}
	if f.Ki < 0 {
		return fmt.Errorf("fusion.ki must be >= 0")
	}

	switch c.Source.Kind {
	case "sim":
		if c.Source.Sim.Period <= 0 {
			return fmt.Errorf("source.sim.period must be > 0")
		}
		if c.Source.Sim.Noise < 0 {
			return fmt.Errorf("source.sim.noise must be >= 0")
		}
		for _, name := range c.Source.Sim.Unavailable {
			if _, err := sensor.ParseChannel(name); err != nil {
				return fmt.Errorf("source.sim.unavailable: unknown channel %q", name)
			}
		}
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when source.kind is 'mqtt'")
		}
	case "icm20948":
		if c.Source.ICM20948.I2CBus < 0 {
			return fmt.Errorf("source.icm20948.i2c_bus must be >= 0")
		}
		if c.Source.ICM20948.Address == 0 || c.Source.ICM20948.Address > 0x7f {
			return fmt.Errorf("source.icm20948.address must be a 7-bit i2c address")
		}
		if c.Source.ICM20948.DRDYEnable {
			if c.Source.ICM20948.DRDYChip == "" {
				return fmt.Errorf("source.icm20948.drdy_chip is required when source.icm20948.drdy_enable is true")
			}
			if c.Source.ICM20948.DRDYLine < 0 {
				return fmt.Errorf("source.icm20948.drdy_line must be >= 0")
			}
		}
	case "replay":
		if c.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is 'replay'")
		}
		if !(c.Source.Replay.Speed > 0) {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
		if c.Source.Record == c.Source.Replay.Path {
			return fmt.Errorf("source.record must differ from source.replay.path")
		}
	default:
		return fmt.Errorf("source.kind must be one of 'sim', 'mqtt', 'icm20948', 'replay'")
	}

	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be > 0")
	}

	switch strings.ToLower(c.Heading.Source) {
	case "magnetometer", "orientation":
	default:
		return fmt.Errorf("heading.source must be 'magnetometer' or 'orientation'")
	}

	if c.Web.Enable && c.Web.Listen == "" {
		return fmt.Errorf("web.listen is required when web.enable is true")
	}

	if c.MQTT.Publish && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.publish is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if (c.MQTT.Publish || c.Source.Kind == "mqtt") && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}

	if c.GDL90.Enable {
		if c.GDL90.Dest == "" {
			return fmt.Errorf("gdl90.dest is required when gdl90.enable is true")
		}
		if c.GDL90.Interval <= 0 {
			return fmt.Errorf("gdl90.interval must be > 0")
		}
	}
	return nil
}

// UnavailableChannels returns source.sim.unavailable as channels.
func (c SimConfig) UnavailableChannels() sensor.ChannelSet {
	var set sensor.ChannelSet
	for _, name := range c.Unavailable {
		if ch, err := sensor.ParseChannel(name); err == nil {
			set = set.With(ch)
		}
	}
	return set
}
