//go:build !rp2040

package main

import (
	"os"

	"buzzcode-go/haptic"
	"buzzcode-go/services/battery"
	"buzzcode-go/services/link"
	"buzzcode-go/x/strx"
)

// Host build: role and peer address come from the environment, the actuator
// is simulated. Used for development runs; the full simulator lives in
// cmd/buzzsim.

func platformInit() (link.Role, haptic.Driver, battery.Monitor) {
	role := link.RoleLeader
	if os.Getenv("BUZZ_ROLE") == "follower" {
		role = link.RoleFollower
	}
	return role, haptic.NewSim(), nil
}

func platformTransport(role link.Role) link.TransportConfig {
	addr := strx.Coalesce(os.Getenv("BUZZ_ADDR"), "127.0.0.1:9470")
	if role == link.RoleLeader {
		return link.TransportConfig{Type: "tcp-listen", Addr: addr}
	}
	return link.TransportConfig{Type: "tcp-dial", Addr: addr}
}
