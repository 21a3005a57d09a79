// Package pattern generates finger-activation patterns for one stimulation
// cycle: an ordering over the fingers, a jittered per-finger rest, the burst
// duration, and the inter-cycle relax duration. Generation is pure given the
// injected random source; the engine creates a fresh pattern per cycle and
// discards it afterwards.
package pattern

import (
	"math/rand"

	"buzzcode-go/errcode"
)

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// Kind selects the ordering algorithm.
type Kind uint8

const (
	// KindRandom shuffles the primary sequence; the secondary is either a
	// mirror or an independent shuffle.
	KindRandom Kind = iota
	// KindSequential runs fingers in ascending order; the secondary is
	// either a mirror or the reverse.
	KindSequential
	// KindMirrored produces one optionally shuffled sequence copied to
	// both hands.
	KindMirrored
)

func (k Kind) String() string {
	switch k {
	case KindRandom:
		return "random"
	case KindSequential:
		return "sequential"
	case KindMirrored:
		return "mirrored"
	}
	return "unknown"
}

// ParseKind maps a profile name to its Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "random":
		return KindRandom, true
	case "sequential":
		return KindSequential, true
	case "mirrored":
		return KindMirrored, true
	}
	return 0, false
}

const (
	// MaxFingers is the number of actuator channels per hand.
	MaxFingers = 5

	// RelaxMultiplier scales (burst+rest) into the inter-cycle relax.
	// Carried over from validated therapy parameters; treat as tunable
	// only with domain sign-off.
	RelaxMultiplier = 4
)

// Params are the per-session generation inputs.
type Params struct {
	NumFingers    int
	BurstMs       float64
	RestMs        float64
	JitterPercent float64 // 0..100
	Mirror        bool
	// Shuffle applies to KindMirrored only: shuffle the shared sequence
	// instead of leaving it ascending.
	Shuffle bool
}

// Validate reports the first out-of-range parameter.
func (p Params) Validate() error {
	if p.NumFingers < 1 || p.NumFingers > MaxFingers {
		return &errcode.E{C: errcode.InvalidParams, Op: "pattern.Params", Msg: "numFingers out of range"}
	}
	if p.BurstMs <= 0 || p.RestMs < 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: "pattern.Params", Msg: "non-positive duration"}
	}
	if p.JitterPercent < 0 || p.JitterPercent > 100 {
		return &errcode.E{C: errcode.InvalidParams, Op: "pattern.Params", Msg: "jitterPercent out of range"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pattern
// ---------------------------------------------------------------------------

// Pattern is one generated stimulation cycle.
type Pattern struct {
	Primary   []int // finger order, primary hand
	Secondary []int // finger order, secondary hand
	RestMs    []float64
	BurstMs   float64
	RelaxMs   float64
}

// Steps returns the number of activation steps in the cycle.
func (p *Pattern) Steps() int { return len(p.Primary) }

// Generate builds a fresh pattern of the given kind. rng must be non-nil
// when jitter or shuffling can occur.
func Generate(kind Kind, p Params, rng *rand.Rand) (Pattern, error) {
	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	switch kind {
	case KindRandom:
		return genRandom(p, rng), nil
	case KindSequential:
		return genSequential(p, rng), nil
	case KindMirrored:
		return genMirrored(p, rng), nil
	}
	return Pattern{}, &errcode.E{C: errcode.InvalidParams, Op: "pattern.Generate", Msg: "unknown kind"}
}

func genRandom(p Params, rng *rand.Rand) Pattern {
	pat := base(p, rng)
	shuffle(pat.Primary, rng)
	if p.Mirror {
		copy(pat.Secondary, pat.Primary)
	} else {
		shuffle(pat.Secondary, rng)
	}
	return pat
}

func genSequential(p Params, rng *rand.Rand) Pattern {
	pat := base(p, rng)
	if p.Mirror {
		copy(pat.Secondary, pat.Primary)
	} else {
		reverse(pat.Secondary)
	}
	return pat
}

func genMirrored(p Params, rng *rand.Rand) Pattern {
	pat := base(p, rng)
	if p.Shuffle {
		shuffle(pat.Primary, rng)
	}
	copy(pat.Secondary, pat.Primary)
	return pat
}

// base builds an ascending-order pattern with jittered rests and the
// computed relax duration.
func base(p Params, rng *rand.Rand) Pattern {
	pat := Pattern{
		Primary:   ascending(p.NumFingers),
		Secondary: ascending(p.NumFingers),
		RestMs:    make([]float64, p.NumFingers),
		BurstMs:   p.BurstMs,
		RelaxMs:   RelaxMultiplier * (p.BurstMs + p.RestMs),
	}
	for i := range pat.RestMs {
		pat.RestMs[i] = jitteredRest(p, rng)
	}
	return pat
}

// jitteredRest perturbs the nominal rest by up to half the jitter window in
// either direction, clamped at zero. With zero jitter the rest is exact and
// the random source is never consulted.
func jitteredRest(p Params, rng *rand.Rand) float64 {
	if p.JitterPercent == 0 {
		return p.RestMs
	}
	half := (p.BurstMs + p.RestMs) * p.JitterPercent / 100 / 2
	r := p.RestMs + (rng.Float64()*2-1)*half
	if r < 0 {
		r = 0
	}
	return r
}

func ascending(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// shuffle is an in-place Fisher-Yates.
func shuffle(s []int, rng *rand.Rand) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
