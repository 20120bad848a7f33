// Package fusion runs the sensor fusion pipeline: filtered samples from the
// stream manager feed the orientation estimator once per cycle, and every
// result is published to observers as an immutable Snapshot.
package fusion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/probe"
	"sensorfusion/internal/sensor"
	"sensorfusion/internal/stream"
)

type Options struct {
	// Heading selects the HeadingDegrees source. Defaults to the magnetometer.
	Heading HeadingSource
	// ProbeTimeout bounds ProbeUnsupportedChannels per channel.
	ProbeTimeout time.Duration
	// Now stamps snapshots. Defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of the pipeline for diagnostics.
type Status struct {
	Config    Config            `json:"config"`
	Heading   HeadingSource     `json:"heading_source"`
	Cycles    uint64            `json:"cycles"`
	Excluded  sensor.ChannelSet `json:"excluded"`
	Observers int               `json:"observers"`
}

type Pipeline struct {
	opts   Options
	pub    *Publisher
	stream *stream.Manager
	prober *probe.Prober

	// reconfMu serializes Reconfigure; mu guards cfg only, so observers
	// running inside a cycle can still read Config.
	reconfMu sync.Mutex
	mu       sync.RWMutex
	cfg      Config

	seq       atomic.Uint64
	closeOnce sync.Once
}

func New(src sensor.Source, cfg Config, opts Options) (*Pipeline, error) {
	if src == nil {
		return nil, fmt.Errorf("fusion: nil source")
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if opts.Heading == "" {
		opts.Heading = HeadingMagnetometer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	est, err := ahrs.New(cfg.estimatorConfig())
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}

	p := &Pipeline{
		opts: opts,
		pub:  NewPublisher(),
		cfg:  cfg,
	}
	p.stream = stream.New(src, cfg.Interval(), p.cycle(est))
	p.prober = probe.New(src, probe.Config{
		Timeout: opts.ProbeTimeout,
		Interval: func(sensor.Channel) time.Duration {
			return p.Config().Interval()
		},
	})
	return p, nil
}

// cycle binds one estimator generation to the stream manager.
func (p *Pipeline) cycle(est *ahrs.Estimator) stream.Handler {
	return func(b stream.Buffer) {
		q := est.Update(b[sensor.AngularRate], b[sensor.Acceleration], b[sensor.MagneticField])
		p.pub.Publish(Snapshot{
			Seq:           p.seq.Add(1),
			Time:          p.opts.Now(),
			Orientation:   q,
			AngularRate:   b[sensor.AngularRate],
			Acceleration:  b[sensor.Acceleration],
			MagneticField: b[sensor.MagneticField],
		})
	}
}

// Start subscribes the sensor channels. When ctx ends the pipeline is closed.
func (p *Pipeline) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.stream.Start()
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		p.Close()
	}()
}

// Subscribe registers an observer that is called once per fusion cycle.
// Observers may read Snapshot, HeadingDegrees, Config and Status but must not
// call Reconfigure, Update or Close synchronously.
func (p *Pipeline) Subscribe(fn func(Snapshot)) func() {
	if p == nil {
		return func() {}
	}
	return p.pub.Subscribe(fn)
}

// Snapshot returns the latest fused state; ok is false before the first cycle.
func (p *Pipeline) Snapshot() (Snapshot, bool) {
	if p == nil {
		return Snapshot{}, false
	}
	return p.pub.Current()
}

// HeadingDegrees returns the heading in [0, 360); ok is false before the
// first cycle.
func (p *Pipeline) HeadingDegrees() (float64, bool) {
	s, ok := p.Snapshot()
	if !ok {
		return 0, false
	}
	return s.Heading(p.opts.Heading), true
}

// ProbeUnsupportedChannels reports the channels the source cannot serve.
func (p *Pipeline) ProbeUnsupportedChannels(ctx context.Context) (sensor.ChannelSet, error) {
	if p == nil {
		return 0, fmt.Errorf("fusion: nil pipeline")
	}
	return p.prober.Unsupported(ctx)
}

func (p *Pipeline) Config() Config {
	if p == nil {
		return Config{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Reconfigure applies cfg. An identical config is a no-op; any change starts a
// fresh estimator and fresh channel filters.
func (p *Pipeline) Reconfigure(cfg Config) error {
	_, err := p.Update(func(c *Config) error {
		*c = cfg
		return nil
	})
	return err
}

// Update edits a copy of the current config with fn and applies the result as
// Reconfigure does. Concurrent updates are serialized, so each one sees the
// previous one's result. It returns the config in effect afterwards.
func (p *Pipeline) Update(fn func(*Config) error) (Config, error) {
	if p == nil {
		return Config{}, fmt.Errorf("fusion: nil pipeline")
	}
	p.reconfMu.Lock()
	defer p.reconfMu.Unlock()

	cur := p.Config()
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	next, err := next.normalized()
	if err != nil {
		return cur, err
	}
	if next == cur {
		return cur, nil
	}
	est, err := ahrs.New(next.estimatorConfig())
	if err != nil {
		return cur, fmt.Errorf("fusion: %w", err)
	}
	p.mu.Lock()
	p.cfg = next
	p.mu.Unlock()
	p.stream.Reset(next.Interval(), p.cycle(est))
	return next, nil
}

func (p *Pipeline) Status() Status {
	if p == nil {
		return Status{}
	}
	return Status{
		Config:    p.Config(),
		Heading:   p.opts.Heading,
		Cycles:    p.stream.Cycles(),
		Excluded:  p.stream.Excluded(),
		Observers: p.pub.Observers(),
	}
}

// Close unsubscribes every sensor channel. Safe to call more than once.
func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.stream.Close()
	})
}
