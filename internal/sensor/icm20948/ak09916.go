package icm20948

import (
	"fmt"
	"time"
)

const (
	magAddr = 0x0C

	magRegWIA2  = 0x01
	magWIA2Val  = 0x09
	magRegST1   = 0x10
	magBitDRDY  = 0x01
	magRegHXL   = 0x11 // HXL..HZH, TMPS, ST2
	magBitHOFL  = 0x08
	magRegCNTL2 = 0x31
	magRegCNTL3 = 0x32
	magBitSRST  = 0x01

	magModeCont100Hz = 0x08

	magScale = 0.15 // µT per LSB
)

// MagAddress is the AK09916's bus address in bypass mode.
func MagAddress() uint16 { return magAddr }

type magnetometer struct {
	dev regIO
}

func newMagnetometer(dev regIO) (*magnetometer, error) {
	who, err := dev.ReadRegU8(magRegWIA2)
	if err != nil {
		return nil, fmt.Errorf("ak09916: whoami read failed: %w", err)
	}
	if who != magWIA2Val {
		return nil, fmt.Errorf("ak09916: whoami=0x%02X want 0x%02X", who, magWIA2Val)
	}
	if err := dev.WriteReg(magRegCNTL3, magBitSRST); err != nil {
		return nil, fmt.Errorf("ak09916: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := dev.WriteReg(magRegCNTL2, magModeCont100Hz); err != nil {
		return nil, fmt.Errorf("ak09916: mode failed: %w", err)
	}
	return &magnetometer{dev: dev}, nil
}

// read returns the latest field in µT in the AK09916's own axes. ok is false
// when no new data is ready or the measurement overflowed.
func (m *magnetometer) read() (x, y, z float64, ok bool, err error) {
	st1, err := m.dev.ReadRegU8(magRegST1)
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("ak09916: status read failed: %w", err)
	}
	if st1&magBitDRDY == 0 {
		return 0, 0, 0, false, nil
	}
	// Reading through ST2 releases the data registers.
	var buf [8]byte
	if err := m.dev.ReadReg(magRegHXL, buf[:]); err != nil {
		return 0, 0, 0, false, fmt.Errorf("ak09916: data read failed: %w", err)
	}
	if buf[7]&magBitHOFL != 0 {
		return 0, 0, 0, false, nil
	}
	le := func(i int) float64 { return float64(int16(uint16(buf[i]) | uint16(buf[i+1])<<8)) }
	return le(0) * magScale, le(2) * magScale, le(4) * magScale, true, nil
}
