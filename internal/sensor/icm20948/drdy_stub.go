//go:build !linux || (!arm && !arm64)

package icm20948

import "fmt"

type DataReady struct{}

func OpenDataReady(chip string, offset int) (*DataReady, error) {
	return nil, fmt.Errorf("icm20948: data-ready gpio unsupported on this platform")
}

func (d *DataReady) C() <-chan struct{} { return nil }

func (d *DataReady) Close() error { return nil }
