// Package probe finds which sensor channels a source cannot serve.
package probe

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sensorfusion/internal/sensor"
)

var logf = log.Printf

const (
	DefaultTimeout       = 2 * time.Second
	DefaultProbeInterval = 10 * time.Millisecond
)

type Config struct {
	// Timeout bounds the wait for a channel's first event. A channel that stays
	// silent is reported unsupported.
	Timeout time.Duration
	// ProbeInterval is requested while a channel is probed.
	ProbeInterval time.Duration
	// Interval returns the channel's configured update interval, restored
	// after probing. A nil func or a non-positive result skips the restore.
	Interval func(sensor.Channel) time.Duration
}

type Prober struct {
	src sensor.Source
	cfg Config
}

func New(src sensor.Source, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Prober{src: src, cfg: cfg}
}

// Unsupported probes every channel concurrently and returns the set that
// reported an error or produced nothing within the timeout. It fails only when
// ctx ends first.
func (p *Prober) Unsupported(ctx context.Context) (sensor.ChannelSet, error) {
	if p == nil || p.src == nil {
		return 0, fmt.Errorf("probe: no source")
	}
	var (
		mu  sync.Mutex
		set sensor.ChannelSet
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range sensor.Channels {
		ch := ch
		g.Go(func() error {
			ok, err := p.probe(gctx, ch)
			if err != nil {
				return err
			}
			if !ok {
				mu.Lock()
				set = set.With(ch)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	return set, nil
}

func (p *Prober) probe(ctx context.Context, ch sensor.Channel) (bool, error) {
	defer p.restore(ch)

	if err := p.src.SetUpdateInterval(ch, p.cfg.ProbeInterval); err != nil {
		logf("probe: set %s interval: %v", ch, err)
	}

	result := make(chan bool, 1)
	report := func(ok bool) {
		select {
		case result <- ok:
		default:
		}
	}
	sub := p.src.Subscribe(ch,
		func(sensor.Vec3) { report(true) },
		func(err error) {
			logf("probe: %s unsupported: %v", ch, err)
			report(false)
		},
	)
	if sub != nil {
		defer sub.Unsubscribe()
	}

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case ok := <-result:
		return ok, nil
	case <-timer.C:
		logf("probe: %s silent for %s", ch, p.cfg.Timeout)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Prober) restore(ch sensor.Channel) {
	if p.cfg.Interval == nil {
		return
	}
	iv := p.cfg.Interval(ch)
	if iv <= 0 {
		return
	}
	if err := p.src.SetUpdateInterval(ch, iv); err != nil {
		logf("probe: restore %s interval: %v", ch, err)
	}
}
