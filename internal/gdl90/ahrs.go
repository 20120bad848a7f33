package gdl90

import (
	"math"
	"strings"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/fusion"
	"sensorfusion/internal/sensor"
)

// Attitude is the subset of fused state the AHRS messages carry. When Valid is
// false every field is sent as its invalid sentinel.
type Attitude struct {
	Valid bool

	RollDeg    float64
	PitchDeg   float64
	HeadingDeg float64

	// YawRateDps is the earth-frame turn rate, positive turning right.
	YawRateDps float64
	// GLoad is the body-vertical specific force in g.
	GLoad float64
}

// AttitudeFromSnapshot derives an Attitude from one fusion cycle. headingDeg is
// passed in so the caller picks the heading source.
func AttitudeFromSnapshot(s fusion.Snapshot, headingDeg float64) Attitude {
	e := s.Euler()
	// Earth z is up, so a right turn is a negative rate about it.
	rate := ahrs.Rotate(s.Orientation, s.AngularRate)
	return Attitude{
		Valid:      true,
		RollDeg:    e.Roll,
		PitchDeg:   e.Pitch,
		HeadingDeg: headingDeg,
		YawRateDps: -rate[2] * 180 / math.Pi,
		GLoad:      s.Acceleration[2] / sensor.StandardGravity,
	}
}

// LEFrame builds the Levil-style "LE" AHRS report (0x4C 0x45 0x01 0x01).
func LEFrame(a Attitude) []byte {
	msg := make([]byte, 24)
	msg[0] = 0x4C
	msg[1] = 0x45
	msg[2] = 0x01
	msg[3] = 0x01

	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := int16(0x7FFF)
	slipSkid := int16(0x7FFF)
	yawRate := int16(0x7FFF)
	g := int16(0x7FFF)
	airspeed := int16(0x7FFF)
	palt := uint16(0xFFFF)
	vs := int16(0x7FFF)

	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
		hdg = deg10(a.HeadingDeg)
		yawRate = deg10(a.YawRateDps)
		// G is sent in 0.1 g units in this report.
		g = deg10(a.GLoad)
	}

	putI16(msg[4:], roll)
	putI16(msg[6:], pitch)
	putI16(msg[8:], hdg)
	putI16(msg[10:], slipSkid)
	putI16(msg[12:], yawRate)
	putI16(msg[14:], g)
	putI16(msg[16:], airspeed)
	msg[18] = byte(palt >> 8)
	msg[19] = byte(palt)
	putI16(msg[20:], vs)
	// Reserved.
	msg[22] = 0x7F
	msg[23] = 0xFF

	return Frame(msg)
}

// ForeFlightAHRSFrame builds the ForeFlight AHRS message (0x65, sub-id 0x01).
// Heading is sent as magnetic.
func ForeFlightAHRSFrame(a Attitude) []byte {
	msg := make([]byte, 12)
	msg[0] = 0x65
	msg[1] = 0x01

	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := uint16(0xFFFF)
	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
		// Bit 15 set marks the heading magnetic.
		hdg = 0x8000 | uint16(deg10(math.Mod(a.HeadingDeg, 360)))&0x7FFF
	}

	putI16(msg[2:], roll)
	putI16(msg[4:], pitch)
	msg[6] = byte(hdg >> 8)
	msg[7] = byte(hdg)
	// IAS and TAS unknown.
	msg[8], msg[9], msg[10], msg[11] = 0xFF, 0xFF, 0xFF, 0xFF

	return Frame(msg)
}

// HeartbeatFrame builds the 0xCC heartbeat that marks a device as carrying
// AHRS.
func HeartbeatFrame(ahrsValid bool) []byte {
	b := byte(1) << 2 // protocol version
	if ahrsValid {
		b |= 0x01
	}
	return Frame([]byte{0xCC, b})
}

// ForeFlightIDFrame builds the ForeFlight ID message (0x65, sub-id 0x00).
func ForeFlightIDFrame(shortName, longName string) []byte {
	msg := make([]byte, 39)
	msg[0] = 0x65
	msg[1] = 0x00
	msg[2] = 0x01 // version

	// Serial number unknown.
	for i := 3; i <= 10; i++ {
		msg[i] = 0xFF
	}

	shortName = strings.TrimSpace(shortName)
	if shortName == "" {
		shortName = "Fusion"
	}
	if len(shortName) > 8 {
		shortName = shortName[:8]
	}
	copy(msg[11:19], shortName)

	longName = strings.TrimSpace(longName)
	if longName == "" {
		longName = "sensorfusion"
	}
	if len(longName) > 16 {
		longName = longName[:16]
	}
	copy(msg[19:35], longName)

	return Frame(msg)
}

func putI16(dst []byte, v int16) {
	dst[0] = byte(uint16(v) >> 8)
	dst[1] = byte(v)
}

func deg10(v float64) int16 {
	r := math.Round(v * 10)
	if math.IsNaN(r) {
		return 0x7FFF
	}
	return int16(math.Max(-32768, math.Min(32767, r)))
}
