//go:build rp2040

package main

import (
	"machine"

	"buzzcode-go/haptic"
	"buzzcode-go/services/battery"
	"buzzcode-go/services/link"
)

// Role strap pin: tied low on the leader glove, floating (pulled up) on the
// follower.
const rolePin = machine.Pin(22)

// TCA9548A multiplexer address on i2c0.
const muxAddr = 0x70

func platformInit() (link.Role, haptic.Driver, battery.Monitor) {
	rolePin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	role := link.RoleFollower
	if !rolePin.Get() {
		role = link.RoleLeader
	}

	bus := machine.I2C0
	_ = bus.Configure(machine.I2CConfig{Frequency: 400_000})

	drv := haptic.NewHand(bus, func(ch int) error {
		return bus.Tx(muxAddr, []byte{byte(1) << uint(ch)}, nil)
	})
	return role, drv, battery.NewADCMonitor()
}

func platformTransport(link.Role) link.TransportConfig {
	return link.TransportConfig{Type: "uart"}
}
