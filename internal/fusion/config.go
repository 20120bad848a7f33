package fusion

import (
	"fmt"
	"strings"
	"time"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/sensor"
)

// HeadingSource selects what Pipeline.HeadingDegrees derives the heading from.
type HeadingSource string

const (
	// HeadingMagnetometer uses the filtered magnetic field x/y components.
	HeadingMagnetometer HeadingSource = "magnetometer"
	// HeadingOrientation uses the fused orientation quaternion.
	HeadingOrientation HeadingSource = "orientation"
)

func ParseHeadingSource(s string) (HeadingSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "magnetometer", "mag":
		return HeadingMagnetometer, nil
	case "orientation", "quaternion":
		return HeadingOrientation, nil
	}
	return "", fmt.Errorf("fusion: unknown heading source %q", s)
}

// Config is the fusion configuration. Any change rebuilds the estimator and
// every channel filter.
type Config struct {
	SampleRateHz float64        `json:"sample_rate_hz"`
	Algorithm    ahrs.Algorithm `json:"algorithm"`
	Beta         float64        `json:"beta"`
	Kp           float64        `json:"kp"`
	Ki           float64        `json:"ki"`
	Initialize   bool           `json:"initialize"`
}

func DefaultConfig() Config {
	return Config{
		SampleRateHz: 60,
		Algorithm:    ahrs.Madgwick,
		Beta:         0.4,
		Kp:           0.5,
		Ki:           0,
		Initialize:   true,
	}
}

func (c Config) estimatorConfig() ahrs.Config {
	return ahrs.Config{
		Algorithm:    c.Algorithm,
		SampleRateHz: c.SampleRateHz,
		Beta:         c.Beta,
		Kp:           c.Kp,
		Ki:           c.Ki,
		Initialize:   c.Initialize,
	}
}

// Interval is the per-sample interval requested from the source.
func (c Config) Interval() time.Duration {
	return sensor.IntervalForRate(c.SampleRateHz)
}

// normalized validates c and spells the algorithm the canonical way, so configs
// that differ only in letter case compare equal.
func (c Config) normalized() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	algo, err := ahrs.ParseAlgorithm(string(c.Algorithm))
	if err != nil {
		return c, fmt.Errorf("fusion: %w", err)
	}
	c.Algorithm = algo
	return c, nil
}

func (c Config) Validate() error {
	if err := c.estimatorConfig().Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if c.Interval() <= 0 {
		return fmt.Errorf("fusion: sample rate %v too high", c.SampleRateHz)
	}
	return nil
}
