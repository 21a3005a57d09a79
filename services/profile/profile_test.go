package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buzzcode-go/bus"
	"buzzcode-go/pattern"
	"buzzcode-go/services/therapy"
)

func TestEmbeddedProfilesLoad(t *testing.T) {
	s, err := LoadEmbedded()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "gentle", "noisy_vcr"}, s.Names())
}

func TestDefaultProfileValues(t *testing.T) {
	s, err := LoadEmbedded()
	require.NoError(t, err)
	p, ok := s.Get("default")
	require.True(t, ok)

	params := p.Params()
	assert.Equal(t, pattern.KindRandom, params.Kind)
	assert.Equal(t, 100.0, params.BurstMs)
	assert.Equal(t, 67.0, params.RestMs)
	assert.Equal(t, 4, params.NumFingers)
	assert.Equal(t, 80, params.Amplitude.Min)
	assert.Equal(t, 7200, params.DurationSec)
}

func TestNoisyVCRHasJitterAndFreqWindow(t *testing.T) {
	s, err := LoadEmbedded()
	require.NoError(t, err)
	p, ok := s.Get("noisy_vcr")
	require.True(t, ok)
	assert.InDelta(t, 23.5, p.JitterPercent, 1e-9)
	assert.Equal(t, 150, p.FreqMinHz)
	assert.Equal(t, 260, p.FreqMaxHz)
}

func TestSanitizeClampsOutOfRange(t *testing.T) {
	raw := []byte(`
profiles:
  wild:
    pattern: spiral
    burst_ms: 99999
    rest_ms: -5
    jitter_percent: 150
    num_fingers: 9
    amplitude_min: 120
    amplitude_max: 10
    freq_min_hz: 10
    freq_max_hz: 9000
    duration_sec: -1
`)
	s, err := Load(raw)
	require.NoError(t, err)
	p, ok := s.Get("wild")
	require.True(t, ok)

	assert.Equal(t, "random", p.Pattern, "unknown pattern falls back")
	assert.Equal(t, 2000.0, p.BurstMs)
	assert.Equal(t, 0.0, p.RestMs)
	assert.Equal(t, 100.0, p.JitterPercent)
	assert.Equal(t, 5, p.NumFingers)
	assert.Equal(t, 100, p.AmplitudeMin)
	assert.Equal(t, 100, p.AmplitudeMax, "max never below min")
	assert.Equal(t, 50, p.FreqMinHz)
	assert.Equal(t, 500, p.FreqMaxHz)
	assert.Equal(t, 0, p.DurationSec)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load([]byte("not: [valid"))
	assert.Error(t, err)

	_, err = Load([]byte("profiles: {}"))
	assert.Error(t, err)
}

func TestServiceResolvesStart(t *testing.T) {
	b := bus.NewBus(16)
	probe := b.NewConnection("probe")
	listSub := probe.Subscribe(bus.T("profile", "list"))
	ctlSub := probe.Subscribe(bus.T("therapy", "control"))
	metaSub := probe.Subscribe(bus.T("session", "meta"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, b.NewConnection("profile"))

	select {
	case msg := <-listSub.Channel():
		assert.Contains(t, msg.Payload.([]string), "noisy_vcr")
	case <-time.After(time.Second):
		t.Fatal("no profile list")
	}

	probe.Publish(probe.NewMessage(bus.T("profile", "start"), "noisy_vcr", false))

	select {
	case msg := <-ctlSub.Channel():
		c := msg.Payload.(therapy.Control)
		assert.Equal(t, "start", c.Cmd)
		assert.Equal(t, 4, c.Params.NumFingers)
		assert.InDelta(t, 23.5, c.Params.JitterPercent, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no control message")
	}

	select {
	case msg := <-metaSub.Channel():
		meta := msg.Payload.(Meta)
		assert.Equal(t, "noisy_vcr", meta.Profile)
		assert.NotEmpty(t, meta.ID)
	case <-time.After(time.Second):
		t.Fatal("no session meta")
	}
}

func TestServiceUnknownProfileFallsBackToDefault(t *testing.T) {
	b := bus.NewBus(16)
	probe := b.NewConnection("probe")
	listSub := probe.Subscribe(bus.T("profile", "list"))
	ctlSub := probe.Subscribe(bus.T("therapy", "control"))
	metaSub := probe.Subscribe(bus.T("session", "meta"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, b.NewConnection("profile"))

	select {
	case <-listSub.Channel():
	case <-time.After(time.Second):
		t.Fatal("no profile list")
	}

	probe.Publish(probe.NewMessage(bus.T("profile", "start"), "bogus", false))

	select {
	case msg := <-ctlSub.Channel():
		ctl := msg.Payload.(therapy.Control)
		assert.Equal(t, "start", ctl.Cmd)
		assert.Equal(t, float64(100), ctl.Params.BurstMs, "default profile parameters apply")
	case <-time.After(2 * time.Second):
		t.Fatal("unknown profile must fall back to default")
	}
	select {
	case msg := <-metaSub.Channel():
		assert.Equal(t, "default", msg.Payload.(Meta).Profile)
	case <-time.After(2 * time.Second):
		t.Fatal("no session meta published")
	}
}
