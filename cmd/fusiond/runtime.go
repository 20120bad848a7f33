package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/config"
	"sensorfusion/internal/fusion"
	"sensorfusion/internal/gdl90"
	"sensorfusion/internal/i2c"
	"sensorfusion/internal/mqtt"
	"sensorfusion/internal/replay"
	"sensorfusion/internal/sensor"
	"sensorfusion/internal/sensor/icm20948"
	"sensorfusion/internal/sensor/sim"
	"sensorfusion/internal/udp"
	"sensorfusion/internal/web"
)

var logf = log.Printf

// runningSource is a sensor.Source plus what it needs to keep running.
type runningSource struct {
	sensor.Source
	// run, when set, drives the source until ctx ends.
	run   func(ctx context.Context)
	close func()
}

func fusionConfig(c config.FusionConfig) (fusion.Config, error) {
	algo, err := ahrs.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return fusion.Config{}, err
	}
	return fusion.Config{
		SampleRateHz: c.SampleRateHz,
		Algorithm:    algo,
		Beta:         c.Beta,
		Kp:           c.Kp,
		Ki:           c.Ki,
		Initialize:   c.Initialize,
	}, nil
}

func mqttConfig(c config.MQTTConfig) mqtt.Config {
	return mqtt.Config{
		Broker:      c.Broker,
		ClientID:    c.ClientID,
		TopicPrefix: c.TopicPrefix,
		QoS:         byte(c.QoS),
	}
}

func simConfig(c config.SimConfig) sim.Config {
	return sim.Config{
		Motion:      sim.Motion{Period: c.Period, TiltDeg: c.TiltDeg},
		Noise:       c.Noise,
		Seed:        c.Seed,
		Unavailable: c.UnavailableChannels(),
	}
}

// mqttConnect is swapped in tests.
var mqttConnect = func(cfg mqtt.Config) (mqtt.Client, func(), error) {
	c, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { c.Disconnect(250) }, nil
}

func openSource(cfg config.Config, client mqtt.Client) (*runningSource, error) {
	switch cfg.Source.Kind {
	case "sim":
		s := sim.New(simConfig(cfg.Source.Sim))
		return &runningSource{Source: s, close: s.Close}, nil
	case "mqtt":
		if client == nil {
			return nil, fmt.Errorf("mqtt source without a broker connection")
		}
		return &runningSource{Source: mqtt.NewSource(client, mqttConfig(cfg.MQTT)), close: func() {}}, nil
	case "icm20948":
		return openICM20948(cfg.Source.ICM20948, cfg.Fusion.SampleRateHz)
	case "replay":
		return openReplay(cfg.Source.Replay)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

func openICM20948(c config.ICM20948Config, rateHz float64) (*runningSource, error) {
	bus, err := i2c.Open(i2c.BusPath(c.I2CBus))
	if err != nil {
		return nil, err
	}
	dev, err := icm20948.New(bus.Dev(c.Address), bus.Dev(icm20948.MagAddress()), icm20948.Options{
		DataReadyInterrupt: c.DRDYEnable,
		SampleRateHz:       rateHz,
	})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	if !dev.HasMagnetometer() {
		logf("icm20948: no magnetometer on %s; magnetic field unavailable", bus.Path())
	}

	var drdy *icm20948.DataReady
	if c.DRDYEnable {
		drdy, err = icm20948.OpenDataReady(c.DRDYChip, c.DRDYLine)
		if err != nil {
			// Polling still works without the interrupt line.
			logf("icm20948: data-ready unavailable, polling: %v", err)
			drdy = nil
		}
	}
	src := icm20948.NewSource(dev, drdy.C())
	return &runningSource{
		Source: src,
		run:    src.Run,
		close: func() {
			_ = drdy.Close()
			_ = bus.Close()
		},
	}, nil
}

func openReplay(c config.ReplayConfig) (*runningSource, error) {
	recs, err := replay.ReadFile(c.Path)
	if err != nil {
		return nil, err
	}
	src, err := replay.NewSource(recs, replay.SourceConfig{Speed: c.Speed, Loop: c.Loop})
	if err != nil {
		return nil, err
	}
	logf("replay: %s channels=%s loop=%v", c.Path, src.Recorded(), c.Loop)
	return &runningSource{
		Source: src,
		run: func(ctx context.Context) {
			if err := src.Run(ctx); err != nil {
				logf("replay: %v", err)
			}
		},
		close: func() {},
	}, nil
}

// withRecorder taps src so delivered samples are also written to path.
func withRecorder(src *runningSource, path string) (*runningSource, error) {
	w, err := replay.CreateWriter(path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	inner := src.close
	logf("recording samples to %s", path)
	return &runningSource{
		Source: replay.NewTap(src.Source, w),
		run:    src.run,
		close: func() {
			inner()
			if err := w.Close(); err != nil {
				logf("record: close failed: %v", err)
			}
		},
	}, nil
}

func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	fcfg, err := fusionConfig(cfg.Fusion)
	if err != nil {
		return err
	}
	hdg, err := fusion.ParseHeadingSource(cfg.Heading.Source)
	if err != nil {
		return err
	}

	var client mqtt.Client
	if cfg.Source.Kind == "mqtt" || cfg.MQTT.Publish {
		c, disconnect, err := mqttConnect(mqttConfig(cfg.MQTT))
		if err != nil {
			return err
		}
		defer disconnect()
		client = c
	}

	src, err := openSource(cfg, client)
	if err != nil {
		return fmt.Errorf("source %s: %w", cfg.Source.Kind, err)
	}
	if cfg.Source.Record != "" {
		tapped, err := withRecorder(src, cfg.Source.Record)
		if err != nil {
			src.close()
			return err
		}
		src = tapped
	}
	defer src.close()

	p, err := fusion.New(src, fcfg, fusion.Options{Heading: hdg, ProbeTimeout: cfg.Probe.Timeout})
	if err != nil {
		return err
	}
	defer p.Close()

	g, ctx := errgroup.WithContext(ctx)
	if src.run != nil {
		g.Go(func() error {
			src.run(ctx)
			return nil
		})
	}
	p.Start(ctx)

	if cfg.Probe.OnStart {
		g.Go(func() error {
			set, err := p.ProbeUnsupportedChannels(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logf("probe failed: %v", err)
				}
				return nil
			}
			if set.Empty() {
				logf("probe: all channels supported")
			} else {
				logf("probe: unsupported channels %s", set)
			}
			return nil
		})
	}

	if cfg.Web.Enable {
		bc := web.NewSnapshotBroadcaster()
		unsub := p.Subscribe(bc.Publish)
		defer unsub()
		h := web.Handler(p, bc, logs)
		g.Go(func() error {
			logf("web listening on %s", cfg.Web.Listen)
			return web.Serve(ctx, cfg.Web.Listen, h)
		})
	}

	if cfg.MQTT.Publish {
		sink := mqtt.NewSink(client, mqttConfig(cfg.MQTT))
		unsub := p.Subscribe(sink.Offer)
		defer unsub()
		g.Go(func() error {
			sink.Run(ctx)
			sent, dropped := sink.Stats()
			logf("mqtt sink stopped sent=%d dropped=%d", sent, dropped)
			return nil
		})
	}

	if cfg.GDL90.Enable {
		b, err := udp.NewBroadcaster(cfg.GDL90.Dest)
		if err != nil {
			return fmt.Errorf("gdl90: %w", err)
		}
		defer b.Close()
		st, err := gdl90.NewStreamer(p, b, gdl90.StreamerConfig{
			Interval:   cfg.GDL90.Interval,
			StaleAfter: staleAfter(fcfg.SampleRateHz),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			logf("gdl90 dest=%s interval=%s", b.Dest(), cfg.GDL90.Interval)
			return st.Run(ctx)
		})
	}

	<-ctx.Done()
	return g.Wait()
}

// staleAfter allows ten missed cycles, at least one second.
func staleAfter(rateHz float64) time.Duration {
	d := time.Duration(10 / rateHz * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}
