package haptic

import (
	"tinygo.org/x/drivers"

	"buzzcode-go/drivers/drv2605"
	"buzzcode-go/errcode"
)

// Hand drives five DRV2605L controllers sitting behind an I2C multiplexer.
// SelectChannel switches the mux to the given finger's port before each
// transaction; with a single motor it can be a no-op.
type Hand struct {
	devs    [5]drv2605.Device
	enabled [5]bool
	sel     func(ch int) error
}

// NewHand probes each finger's controller and marks absent ones disabled
// rather than failing, so a glove with missing motors still runs.
func NewHand(bus drivers.I2C, selectChannel func(ch int) error) *Hand {
	h := &Hand{sel: selectChannel}
	if h.sel == nil {
		h.sel = func(int) error { return nil }
	}
	for i := range h.devs {
		h.devs[i] = drv2605.New(bus)
		if h.sel(i) != nil {
			continue
		}
		if err := h.devs[i].Configure(drv2605.Config{ActuatorType: drv2605.LRA}); err != nil {
			println("[HAPTIC] finger", i, "not present:", err.Error())
			continue
		}
		h.enabled[i] = true
	}
	return h
}

func (h *Hand) Activate(finger, amplitudePct int) error {
	if finger < 0 || finger >= len(h.devs) {
		return errcode.FingerRange
	}
	if !h.enabled[finger] {
		return errcode.MotorDisabled
	}
	if amplitudePct < 0 {
		amplitudePct = 0
	}
	if amplitudePct > 100 {
		amplitudePct = 100
	}
	if err := h.sel(finger); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.Activate", Err: err}
	}
	if err := h.devs[finger].SetRTPValue(uint8(amplitudePct * 255 / 100)); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.Activate", Err: err}
	}
	return nil
}

func (h *Hand) Deactivate(finger int) error {
	if finger < 0 || finger >= len(h.devs) {
		return errcode.FingerRange
	}
	if !h.enabled[finger] {
		return nil
	}
	if err := h.sel(finger); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.Deactivate", Err: err}
	}
	if err := h.devs[finger].SetRTPValue(0); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.Deactivate", Err: err}
	}
	return nil
}

func (h *Hand) SetFrequency(finger, hz int) error {
	if finger < 0 || finger >= len(h.devs) {
		return errcode.FingerRange
	}
	if !h.enabled[finger] {
		return errcode.MotorDisabled
	}
	if err := h.sel(finger); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.SetFrequency", Err: err}
	}
	if err := h.devs[finger].SetOpenLoopPeriod(hz); err != nil {
		return &errcode.E{C: errcode.MotorFault, Op: "haptic.SetFrequency", Err: err}
	}
	return nil
}

func (h *Hand) Enabled(finger int) bool {
	return finger >= 0 && finger < len(h.enabled) && h.enabled[finger]
}

// StopAll releases every finger, continuing past individual failures.
func (h *Hand) StopAll() {
	for i := range h.devs {
		if !h.enabled[i] {
			continue
		}
		if err := h.sel(i); err != nil {
			println("[HAPTIC] stopall: mux select failed on finger", i)
			continue
		}
		if err := h.devs[i].SetRTPValue(0); err != nil {
			println("[HAPTIC] stopall: release failed on finger", i)
		}
	}
}
