package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sensorfusion/internal/sensor"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_EmptyFileGivesDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "fusion:\n  algorithm: Mahony\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fusion.Algorithm != "Mahony" {
		t.Fatalf("algorithm=%q want Mahony", cfg.Fusion.Algorithm)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Fusion.SampleRateHz != 60 || cfg.Fusion.Beta != 0.4 || cfg.Fusion.Kp != 0.5 || !cfg.Fusion.Initialize {
		t.Fatalf("fusion defaults lost: %+v", cfg.Fusion)
	}
	if cfg.Probe.Timeout != 2*time.Second {
		t.Fatalf("probe.timeout=%s want 2s", cfg.Probe.Timeout)
	}
	if cfg.Source.Kind != "sim" || cfg.Heading.Source != "magnetometer" {
		t.Fatalf("source=%q heading=%q", cfg.Source.Kind, cfg.Heading.Source)
	}
}

func TestLoad_FullFile(t *testing.T) {
	body := `
fusion:
  sample_rate_hz: 100
  algorithm: Madgwick
  beta: 0.1
  initialize: false
source:
  kind: icm20948
  icm20948:
    i2c_bus: 3
    address: 0x69
    drdy_enable: true
    drdy_line: 17
probe:
  timeout: 500ms
  on_start: false
heading:
  source: orientation
web:
  listen: "127.0.0.1:9000"
mqtt:
  broker: tcp://broker:1883
  topic_prefix: imu/left
  qos: 1
  publish: true
gdl90:
  enable: true
  dest: 192.168.10.255:4000
  interval: 100ms
`
	cfg, err := Load(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fusion.SampleRateHz != 100 || cfg.Fusion.Beta != 0.1 || cfg.Fusion.Initialize {
		t.Fatalf("fusion=%+v", cfg.Fusion)
	}
	want := ICM20948Config{I2CBus: 3, Address: 0x69, DRDYEnable: true, DRDYChip: "gpiochip0", DRDYLine: 17}
	if cfg.Source.ICM20948 != want {
		t.Fatalf("icm20948=%+v want %+v", cfg.Source.ICM20948, want)
	}
	if cfg.Probe.Timeout != 500*time.Millisecond || cfg.Probe.OnStart {
		t.Fatalf("probe=%+v", cfg.Probe)
	}
	if cfg.MQTT.QoS != 1 || !cfg.MQTT.Publish || cfg.MQTT.TopicPrefix != "imu/left" {
		t.Fatalf("mqtt=%+v", cfg.MQTT)
	}
	if !cfg.GDL90.Enable || cfg.GDL90.Interval != 100*time.Millisecond {
		t.Fatalf("gdl90=%+v", cfg.GDL90)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"ZeroRate", "fusion:\n  sample_rate_hz: 0\n", "fusion.sample_rate_hz must be in (0, 1000]"},
		{"UnknownAlgorithm", "fusion:\n  algorithm: kalman\n", "fusion.algorithm must be 'Madgwick' or 'Mahony'"},
		{"NegativeBeta", "fusion:\n  beta: -1\n", "fusion.beta must be >= 0"},
		{"NegativeKi", "fusion:\n  ki: -0.1\n", "fusion.ki must be >= 0"},
		{"UnknownSource", "source:\n  kind: serial\n", "source.kind must be one of 'sim', 'mqtt', 'icm20948', 'replay'"},
		{"ReplayNeedsPath", "source:\n  kind: replay\n", "source.replay.path is required when source.kind is 'replay'"},
		{"ReplaySpeed", "source:\n  kind: replay\n  replay:\n    path: a.log\n    speed: 0\n", "source.replay.speed must be > 0"},
		{"ReplayOverwrite", "source:\n  kind: replay\n  record: a.log\n  replay:\n    path: a.log\n", "source.record must differ from source.replay.path"},
		{"UnknownSimChannel", "source:\n  sim:\n    unavailable: [barometer]\n", `source.sim.unavailable: unknown channel "barometer"`},
		{"MQTTSourceNeedsBroker", "source:\n  kind: mqtt\n", "mqtt.broker is required when source.kind is 'mqtt'"},
		{"MQTTPublishNeedsBroker", "mqtt:\n  publish: true\n", "mqtt.broker is required when mqtt.publish is true"},
		{"MQTTQoS", "mqtt:\n  qos: 3\n", "mqtt.qos must be 0, 1 or 2"},
		{"MQTTPrefix", "mqtt:\n  broker: tcp://b:1883\n  publish: true\n  topic_prefix: /\n", "mqtt.topic_prefix is required"},
		{"BadAddress", "source:\n  kind: icm20948\n  icm20948:\n    address: 0x80\n", "source.icm20948.address must be a 7-bit i2c address"},
		{"DRDYNeedsChip", "source:\n  kind: icm20948\n  icm20948:\n    drdy_enable: true\n    drdy_chip: ''\n", "source.icm20948.drdy_chip is required when source.icm20948.drdy_enable is true"},
		{"ProbeTimeout", "probe:\n  timeout: 0s\n", "probe.timeout must be > 0"},
		{"HeadingSource", "heading:\n  source: gps\n", "heading.source must be 'magnetometer' or 'orientation'"},
		{"WebListen", "web:\n  enable: true\n  listen: ''\n", "web.listen is required when web.enable is true"},
		{"GDL90Dest", "gdl90:\n  enable: true\n  dest: ''\n", "gdl90.dest is required when gdl90.enable is true"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "fusion:\n  mode: fast\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field mode not found in type config.FusionConfig")
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "fusion: [\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_Replay(t *testing.T) {
	cfg, err := Parse([]byte("source:\n  kind: replay\n  record: out.log\n  replay:\n    path: in.log\n    loop: true\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := ReplayConfig{Path: "in.log", Speed: 1, Loop: true}
	if cfg.Source.Replay != want || cfg.Source.Record != "out.log" {
		t.Fatalf("replay=%+v record=%q", cfg.Source.Replay, cfg.Source.Record)
	}
}

func TestSimConfig_UnavailableChannels(t *testing.T) {
	cfg, err := Parse([]byte("source:\n  sim:\n    unavailable: [mag, gyroscope]\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	got := cfg.Source.Sim.UnavailableChannels()
	want := sensor.NewChannelSet(sensor.AngularRate, sensor.MagneticField)
	if got != want {
		t.Fatalf("got=%v want %v", got, want)
	}
}
