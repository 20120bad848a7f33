// Package replay records sensor samples to a text log and plays them back as a
// sensor.Source.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"sensorfusion/internal/sensor"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<channel>,<x>,<y>,<z>
//   where t_ns is nanoseconds since START and channel is a sensor channel name.

type Record struct {
	At time.Duration
	// Start marks a START line; Channel and Value are unset.
	Start   bool
	Channel sensor.Channel
	Value   sensor.Vec3
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return Record{}, fmt.Errorf("want 5 fields, got %d: %q", len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	tsNs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", fields[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid timestamp (negative): %d", tsNs)
	}
	ch, err := sensor.ParseChannel(fields[1])
	if err != nil {
		return Record{}, err
	}
	var v sensor.Vec3
	for i := 0; i < 3; i++ {
		v[i], err = strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid value %q: %w", fields[2+i], err)
		}
	}
	return Record{At: time.Duration(tsNs), Channel: ch, Value: v}, nil
}

// ReadFile reads a whole log.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends samples to a log. It is safe for concurrent use, since
// channels deliver from different goroutines.
type Writer struct {
	mu     sync.Mutex
	c      io.Closer
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, time.Now())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter starts a recording on w with origin start.
func NewWriter(w io.WriteCloser, start time.Time) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, err
	}
	return &Writer{c: w, w: bw, start: start}, nil
}

func (ww *Writer) WriteSample(now time.Time, ch sensor.Channel, v sensor.Vec3) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s,%s,%s\n", d.Nanoseconds(), ch,
		strconv.FormatFloat(v[0], 'g', -1, 64),
		strconv.FormatFloat(v[1], 'g', -1, 64),
		strconv.FormatFloat(v[2], 'g', -1, 64))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.c.Close()
		return err
	}
	return ww.c.Close()
}

type Sleeper interface {
	// Sleep waits for d; it returns false when ctx ended first.
	Sleep(ctx context.Context, d time.Duration) bool
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Play replays records with their relative timing, calling cb for every
// sample record. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var lastAt time.Duration
		haveLast := false
		samples := 0

		for _, r := range records {
			if ctx.Err() != nil {
				return nil
			}
			if r.Start {
				haveLast = false
				continue
			}
			if haveLast {
				wait := time.Duration(float64(r.At-lastAt) / speedMultiplier)
				if wait > 0 && !sleeper.Sleep(ctx, wait) {
					return nil
				}
			}
			if err := cb(r); err != nil {
				return err
			}
			lastAt = r.At
			haveLast = true
			samples++
		}

		if samples == 0 {
			return errors.New("no sample records")
		}
		if !loop {
			return nil
		}
	}
}
