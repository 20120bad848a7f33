package sensor

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Channel identifies one of the three motion-sensor modalities.
//
// The numeric order is the cycle priority order: a fusion cycle completes when a
// sample arrives on the last channel.
type Channel int

const (
	AngularRate Channel = iota
	Acceleration
	MagneticField

	NumChannels = 3
)

// Channels lists every channel in priority order.
var Channels = [NumChannels]Channel{AngularRate, Acceleration, MagneticField}

// Last is the channel whose samples complete a fusion cycle.
const Last = MagneticField

// StandardGravity in m/s².
const StandardGravity = 9.80665

func (c Channel) Valid() bool { return c >= AngularRate && c <= MagneticField }

func (c Channel) String() string {
	switch c {
	case AngularRate:
		return "angular_rate"
	case Acceleration:
		return "acceleration"
	case MagneticField:
		return "magnetic_field"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel accepts the String form plus the sensor names used by mobile
// sensor APIs (gyroscope, accelerometer, magnetometer).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "angular_rate", "gyroscope", "gyro":
		return AngularRate, nil
	case "acceleration", "accelerometer", "accel":
		return Acceleration, nil
	case "magnetic_field", "magnetometer", "mag":
		return MagneticField, nil
	}
	return 0, fmt.Errorf("sensor: unknown channel %q", s)
}

// Vec3 is one x/y/z reading.
type Vec3 [3]float64

func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Finite reports whether no component is NaN or Inf.
func (v Vec3) Finite() bool {
	for _, e := range v {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return false
		}
	}
	return true
}

// Sample is a raw reading tagged with its channel.
type Sample struct {
	Channel Channel
	Vec3
}

// Subscription cancels delivery for one Subscribe call.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Source is the raw sensor collaborator.
//
// Subscribe delivers samples for one channel until the returned Subscription is
// cancelled. Per-channel delivery order is arrival order. A source that cannot
// serve the channel reports it through onError; callbacks may run on any
// goroutine, including synchronously from Subscribe. A Source must support
// several concurrent subscriptions to the same channel.
type Source interface {
	Subscribe(ch Channel, onSample func(Vec3), onError func(error)) Subscription
	SetUpdateInterval(ch Channel, interval time.Duration) error
}

// IntervalForRate converts a sample rate to the per-sample interval.
func IntervalForRate(hz float64) time.Duration {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}
