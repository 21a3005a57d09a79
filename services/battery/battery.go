// Package battery samples the pack voltage and classifies it, publishing a
// retained state the therapy loop watches for its emergency stop.
//
// Bus surface:
//
//	battery/state (published, retained) "ok" | "warning" | "critical"
//	battery/level (published, retained) percent remaining, int
package battery

import (
	"context"
	"time"

	"buzzcode-go/bus"
)

// Monitor reads the battery. Hardware builds wrap the ADC; the simulator
// and tests inject their own.
type Monitor interface {
	// ReadMillivolts returns the pack voltage.
	ReadMillivolts() (int, error)
}

// Single-cell LiPo thresholds.
const (
	fullMV     = 4200
	emptyMV    = 3300
	warningMV  = 3500
	criticalMV = 3400

	sampleInterval = 30 * time.Second
)

// Level classifies a voltage reading.
func Level(mv int) string {
	switch {
	case mv <= criticalMV:
		return "critical"
	case mv <= warningMV:
		return "warning"
	}
	return "ok"
}

// Percent maps voltage to a rough charge percentage. Linear; good enough
// for a status line, not for coulomb counting.
func Percent(mv int) int {
	if mv >= fullMV {
		return 100
	}
	if mv <= emptyMV {
		return 0
	}
	return (mv - emptyMV) * 100 / (fullMV - emptyMV)
}

// Start runs the battery service until ctx is cancelled. A nil monitor
// disables sampling (host builds without a pack).
func Start(ctx context.Context, conn *bus.Connection, mon Monitor) {
	if mon == nil {
		conn.Publish(conn.NewMessage(bus.T("battery", "state"), "ok", true))
		return
	}
	go serviceLoop(ctx, conn, mon)
}

func serviceLoop(ctx context.Context, conn *bus.Connection, mon Monitor) {
	tick := time.NewTicker(sampleInterval)
	defer tick.Stop()

	last := ""
	sample := func() {
		mv, err := mon.ReadMillivolts()
		if err != nil {
			println("[BATTERY] read failed:", err.Error())
			return
		}
		state := Level(mv)
		if state != last {
			last = state
			println("[BATTERY]", mv, "mV ->", state)
			conn.Publish(conn.NewMessage(bus.T("battery", "state"), state, true))
		}
		conn.Publish(conn.NewMessage(bus.T("battery", "level"), Percent(mv), true))
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			sample()
		}
	}
}
