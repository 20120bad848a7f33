// Package icm20948 drives an ICM-20948 9-axis IMU over I2C and exposes it as a
// sensor.Source.
//
// The accelerometer and gyroscope are read from the ICM-20948 itself. The
// AK09916 magnetometer sits behind the chip's auxiliary bus; bypass mode puts
// it directly on the host bus at its own address.
package icm20948

import (
	"fmt"
	"math"
	"time"

	"sensorfusion/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl    = 0x03
	regPwrMgmt1    = 0x06
	bitReset       = 0x80
	clkAuto        = 0x01
	regIntPinCfg   = 0x0F
	bitBypassEn    = 0x02
	regIntEnable   = 0x10
	regIntEnable1  = 0x11
	bitRawDataRdy  = 0x01
	regAccelXoutH  = 0x2D // accel then gyro, 12 bytes

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsGyro500dps = 0x02 // FS_SEL=1 in bits [2:1]
	fsAccel4g    = 0x02 // FS_SEL=1 in bits [2:1]

	baseRateHz = 1125.0
)

// Reading is one accel/gyro/mag sample in sensor units.
type Reading struct {
	Time time.Time
	// Accel in g.
	Ax, Ay, Az float64
	// Gyro in deg/s.
	Gx, Gy, Gz float64
	// Mag in µT, rotated onto the accel/gyro axes. MagValid is false when no
	// new magnetometer data was ready.
	Mx, My, Mz float64
	MagValid   bool
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Options struct {
	// DataReadyInterrupt routes RAW_DATA_0_RDY to the INT pin.
	DataReadyInterrupt bool
	// SampleRateHz is the initial output data rate.
	SampleRateHz float64
}

type Device struct {
	dev regIO
	mag *magnetometer

	curBank    byte
	scaleAccel float64
	scaleGyro  float64
	rateHz     float64
}

func DefaultAddress() uint16 { return addrDefault }

// New probes the ICM-20948 at imu and, when mag is non-nil, the AK09916
// behind it. A missing magnetometer is not an error; HasMagnetometer reports
// it.
func New(imu, mag *i2c.Dev, opts Options) (*Device, error) {
	if imu == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	var magIO regIO
	if mag != nil {
		magIO = mag
	}
	return newWithIO(imu, magIO, opts)
}

func newWithIO(dev, magIO regIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(opts); err != nil {
		return nil, err
	}
	if magIO != nil {
		m, err := newMagnetometer(magIO)
		if err == nil {
			d.mag = m
		}
	}
	return d, nil
}

func (d *Device) init(opts Options) error {
	if err := d.setBank(0); err != nil {
		return err
	}

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the chip to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// The auxiliary I2C master must be off for bypass to work.
	if err := d.dev.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)
	drdy := byte(0)
	if opts.DataReadyInterrupt {
		drdy = bitRawDataRdy
	}
	if err := d.dev.WriteReg(regIntEnable1, drdy); err != nil {
		return fmt.Errorf("icm20948: int enable failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regGyroConfig, fsGyro500dps); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	d.scaleAccel = 4.0 / 32768.0
	d.scaleGyro = 500.0 / 32768.0

	rate := opts.SampleRateHz
	if rate <= 0 {
		rate = 100
	}
	if err := d.SetSampleRate(rate); err != nil {
		return err
	}
	return d.setBank(0)
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// divider returns the sample-rate divider for hz: rate = 1125/(1+div).
func divider(hz float64) byte {
	if hz <= 0 {
		return 0xFF
	}
	div := math.Ceil(baseRateHz/hz) - 1
	if div < 0 {
		div = 0
	}
	if div > 255 {
		div = 255
	}
	return byte(div)
}

// SetSampleRate programs the fastest output data rate not above hz.
func (d *Device) SetSampleRate(hz float64) error {
	if d == nil {
		return fmt.Errorf("icm20948: device is nil")
	}
	div := divider(hz)
	if err := d.setBank(bank2); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regGyroSmplrt, div); err != nil {
		return fmt.Errorf("icm20948: gyro rate failed: %w", err)
	}
	// ACCEL_SMPLRT_DIV is 12 bits split across two registers; the high part
	// stays zero for the rates used here.
	if err := d.dev.WriteReg(regAccelSmplrt2, div); err != nil {
		return fmt.Errorf("icm20948: accel rate failed: %w", err)
	}
	d.rateHz = baseRateHz / (1 + float64(div))
	return d.setBank(0)
}

// SampleRate is the programmed output data rate in Hz.
func (d *Device) SampleRate() float64 {
	if d == nil {
		return 0
	}
	return d.rateHz
}

func (d *Device) HasMagnetometer() bool {
	return d != nil && d.mag != nil
}

func (d *Device) Read() (Reading, error) {
	if d == nil {
		return Reading{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Reading{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Reading{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	be := func(i int) float64 { return float64(int16(uint16(buf[i])<<8 | uint16(buf[i+1]))) }

	r := Reading{
		Time: time.Now(),
		Ax:   be(0) * d.scaleAccel,
		Ay:   be(2) * d.scaleAccel,
		Az:   be(4) * d.scaleAccel,
		Gx:   be(6) * d.scaleGyro,
		Gy:   be(8) * d.scaleGyro,
		Gz:   be(10) * d.scaleGyro,
	}
	if d.mag != nil {
		mx, my, mz, ok, err := d.mag.read()
		if err != nil {
			return Reading{}, err
		}
		if ok {
			// AK09916 Y and Z point opposite to the accel/gyro axes.
			r.Mx, r.My, r.Mz = mx, -my, -mz
			r.MagValid = true
		}
	}
	return r, nil
}
