package main

import (
	"context"
	"math/rand"
	"time"

	"buzzcode-go/bus"
	"buzzcode-go/engine"
	"buzzcode-go/services/battery"
	"buzzcode-go/services/link"
	"buzzcode-go/services/profile"
	"buzzcode-go/services/therapy"
	"buzzcode-go/staging"
	"buzzcode-go/x/timex"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot buzzcode")

	ctx := context.Background()
	b := bus.NewBus(32)
	clk := timex.NewMonotonic()

	role, drv, mon := platformInit()
	println("role:", role.String())

	buf := &staging.Buffer{}
	rng := rand.New(rand.NewSource(int64(clk.NowUs())))
	eng := engine.New(clk, drv, buf, rng, nil)

	battery.Start(ctx, b.NewConnection("battery"), mon)
	go profile.Start(ctx, b.NewConnection("profile"))
	go link.Start(ctx, b.NewConnection("link"), linkConfig(role))
	therapy.Start(ctx, b.NewConnection("therapy"), clk, drv, role, eng, buf)
}

func linkConfig(role link.Role) link.Config {
	return link.Config{Role: role, Transport: platformTransport(role)}
}
