//go:build linux && (arm || arm64)

package icm20948

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// DataReady turns rising edges on the chip's INT line into trigger events.
type DataReady struct {
	line *gpiocdev.Line
	c    chan struct{}
}

// OpenDataReady requests offset on chip (a name such as "gpiochip0" or a
// /dev path) as an edge-detecting input.
func OpenDataReady(chip string, offset int) (*DataReady, error) {
	if offset < 0 {
		return nil, fmt.Errorf("icm20948: invalid drdy line %d", offset)
	}
	if !strings.HasPrefix(chip, "/") {
		chip = filepath.Join("/dev", chip)
	}
	d := &DataReady{c: make(chan struct{}, 1)}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { d.notify() }),
		gpiocdev.WithConsumer("sensorfusion-drdy"),
	)
	if err != nil {
		return nil, fmt.Errorf("icm20948: request %s line %d: %w", chip, offset, err)
	}
	d.line = line
	return d, nil
}

func (d *DataReady) notify() {
	select {
	case d.c <- struct{}{}:
	default:
	}
}

// C delivers one event per edge; edges arriving while one is pending merge.
func (d *DataReady) C() <-chan struct{} {
	if d == nil {
		return nil
	}
	return d.c
}

func (d *DataReady) Close() error {
	if d == nil || d.line == nil {
		return nil
	}
	err := d.line.Close()
	d.line = nil
	return err
}
