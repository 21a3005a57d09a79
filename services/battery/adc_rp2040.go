//go:build rp2040

package battery

import "machine"

// Pack voltage divider: VBAT through 2:1 onto ADC0.
const (
	vbatPin     = machine.ADC0
	dividerNum  = 2
	adcRefMV    = 3300
	adcFullness = 0xFFFF
)

// ADCMonitor reads the pack through the board's voltage divider.
type ADCMonitor struct {
	adc machine.ADC
}

func NewADCMonitor() *ADCMonitor {
	machine.InitADC()
	a := machine.ADC{Pin: vbatPin}
	a.Configure(machine.ADCConfig{})
	return &ADCMonitor{adc: a}
}

func (m *ADCMonitor) ReadMillivolts() (int, error) {
	raw := int(m.adc.Get())
	return raw * adcRefMV * dividerNum / adcFullness, nil
}
