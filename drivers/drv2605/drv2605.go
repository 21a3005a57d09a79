// Package drv2605 provides a driver for the TI DRV2605L haptic motor
// controller in real-time playback (RTP) mode, one controller per finger
// behind a TCA9548A-style I2C multiplexer channel.
//
// Usage per channel:
//
//	d := drv2605.New(bus)
//	err := d.Configure(drv2605.Config{ActuatorType: drv2605.LRA})
//	d.SetRTPValue(amp)   // 0 stops the motor
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when
// both w and r are provided, without releasing the bus.
package drv2605

import (
	"errors"

	"tinygo.org/x/drivers"
)

// I2C address (fixed; channel selection happens at the multiplexer).
const Address = 0x5A

// Registers.
const (
	regStatus      = 0x00
	regMode        = 0x01
	regRTPInput    = 0x02
	regLibrary     = 0x03
	regGo          = 0x0C
	regRatedV      = 0x16
	regOverdriveV  = 0x17
	regFeedback    = 0x1A
	regControl1    = 0x1B
	regControl2    = 0x1C
	regControl3    = 0x1D
	regLRAOpenLoop = 0x20
)

// Mode register values.
const (
	modeInternalTrigger = 0x00
	modeRTP             = 0x05
	modeStandby         = 0x40
	modeReset           = 0x80
)

// Feedback control bits.
const (
	feedbackLRA = 0x80
)

// Control3: LRA open-loop bit.
const control3LRAOpenLoop = 0x01

// Errors returned by the driver.
var (
	ErrNotFound = errors.New("drv2605: device not responding")
	ErrProtocol = errors.New("drv2605: protocol error")
)

// Actuator selects the motor class.
type Actuator uint8

const (
	// ERM is an eccentric rotating mass motor, closed loop.
	ERM Actuator = iota
	// LRA is a linear resonant actuator, driven open loop so the drive
	// frequency can be retuned per session.
	LRA
)

// Config controls initialisation. All fields optional.
type Config struct {
	ActuatorType Actuator
	// RatedVoltage and OverdriveVoltage are raw register values; zero keeps
	// the chip defaults.
	RatedVoltage     uint8
	OverdriveVoltage uint8
}

// Device wraps an I2C connection to one DRV2605L.
type Device struct {
	bus     drivers.I2C
	Address uint16
	buf     [2]byte

	actuator Actuator
	lastRTP  uint8
}

// New creates the connection object only; it does not touch the device.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Configure takes the chip out of standby, selects RTP mode, and applies
// actuator-class settings. Fails with ErrNotFound if the chip does not ack.
func (d *Device) Configure(cfg Config) error {
	if _, err := d.readReg(regStatus); err != nil {
		return ErrNotFound
	}
	if err := d.writeReg(regMode, modeRTP); err != nil {
		return err
	}

	d.actuator = cfg.ActuatorType
	if cfg.ActuatorType == LRA {
		if err := d.writeReg(regFeedback, feedbackLRA); err != nil {
			return err
		}
		// Open loop: the session controls drive frequency directly.
		c3, err := d.readReg(regControl3)
		if err != nil {
			return err
		}
		if err := d.writeReg(regControl3, c3|control3LRAOpenLoop); err != nil {
			return err
		}
	}
	if cfg.RatedVoltage != 0 {
		if err := d.writeReg(regRatedV, cfg.RatedVoltage); err != nil {
			return err
		}
	}
	if cfg.OverdriveVoltage != 0 {
		if err := d.writeReg(regOverdriveV, cfg.OverdriveVoltage); err != nil {
			return err
		}
	}
	return nil
}

// SetRTPValue sets the drive strength, 0-255. Zero stops the motor.
func (d *Device) SetRTPValue(v uint8) error {
	if err := d.writeReg(regRTPInput, v); err != nil {
		return err
	}
	d.lastRTP = v
	return nil
}

// SetOpenLoopPeriod retunes an open-loop LRA's drive frequency.
// period register = 1e9 / (hz * 98_460) per datasheet.
func (d *Device) SetOpenLoopPeriod(hz int) error {
	if hz <= 0 {
		return ErrProtocol
	}
	p := 1_000_000_000 / (uint32(hz) * 98_460)
	if p == 0 {
		p = 1
	}
	if p > 0x7F {
		p = 0x7F
	}
	return d.writeReg(regLRAOpenLoop, uint8(p))
}

// Standby puts the chip into low-power standby, motor off.
func (d *Device) Standby() error {
	if err := d.SetRTPValue(0); err != nil {
		return err
	}
	return d.writeReg(regMode, modeStandby)
}

// Wake returns the chip to RTP mode after standby.
func (d *Device) Wake() error {
	return d.writeReg(regMode, modeRTP)
}

// Connected reports whether the chip acks on the bus.
func (d *Device) Connected() bool {
	_, err := d.readReg(regStatus)
	return err == nil
}

func (d *Device) writeReg(reg, val uint8) error {
	d.buf[0] = reg
	d.buf[1] = val
	return d.bus.Tx(d.Address, d.buf[:2], nil)
}

func (d *Device) readReg(reg uint8) (uint8, error) {
	d.buf[0] = reg
	if err := d.bus.Tx(d.Address, d.buf[:1], d.buf[1:2]); err != nil {
		return 0, err
	}
	return d.buf[1], nil
}
