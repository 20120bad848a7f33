package gdl90

import (
	"context"
	"fmt"
	"log"
	"time"

	"sensorfusion/internal/fusion"
)

var logf = log.Printf

// DefaultStaleAfter is how old a snapshot may be before the attitude is sent
// as invalid.
const DefaultStaleAfter = time.Second

// Sender writes one framed message.
type Sender interface {
	Send(payload []byte) error
}

// AttitudeSource is the read side of a fusion pipeline.
type AttitudeSource interface {
	Snapshot() (fusion.Snapshot, bool)
	HeadingDegrees() (float64, bool)
}

type StreamerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	ShortName  string
	LongName   string
}

// Streamer sends AHRS reports every Interval and the heartbeat and ID
// messages once per second.
type Streamer struct {
	src    AttitudeSource
	sender Sender
	cfg    StreamerConfig
	now    func() time.Time

	lastHeartbeat time.Time
	sendFailing   bool
}

func NewStreamer(src AttitudeSource, sender Sender, cfg StreamerConfig) (*Streamer, error) {
	if src == nil || sender == nil {
		return nil, fmt.Errorf("gdl90: source and sender are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("gdl90: interval must be > 0")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Streamer{src: src, sender: sender, cfg: cfg, now: time.Now}, nil
}

// Run sends until ctx ends.
func (s *Streamer) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Streamer) attitude(now time.Time) Attitude {
	snap, ok := s.src.Snapshot()
	if !ok || now.Sub(snap.Time) > s.cfg.StaleAfter {
		return Attitude{}
	}
	hdg, ok := s.src.HeadingDegrees()
	if !ok {
		return Attitude{}
	}
	return AttitudeFromSnapshot(snap, hdg)
}

// frames returns the messages due at now.
func (s *Streamer) frames(now time.Time) [][]byte {
	a := s.attitude(now)
	var out [][]byte
	if s.lastHeartbeat.IsZero() || now.Sub(s.lastHeartbeat) >= time.Second {
		s.lastHeartbeat = now
		out = append(out, HeartbeatFrame(a.Valid), ForeFlightIDFrame(s.cfg.ShortName, s.cfg.LongName))
	}
	return append(out, LEFrame(a), ForeFlightAHRSFrame(a))
}

func (s *Streamer) tick() {
	for _, f := range s.frames(s.now()) {
		if err := s.sender.Send(f); err != nil {
			if !s.sendFailing {
				logf("gdl90: send failed: %v", err)
			}
			s.sendFailing = true
			return
		}
	}
	if s.sendFailing {
		logf("gdl90: send recovered")
		s.sendFailing = false
	}
}
