package pattern

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRNG() *rand.Rand { return rand.New(rand.NewSource(1)) }

func isPermutation(t *testing.T, s []int, n int) {
	t.Helper()
	require.Len(t, s, n)
	seen := make([]bool, n)
	for _, v := range s {
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, n)
		require.False(t, seen[v], "duplicate finger %d", v)
		seen[v] = true
	}
}

func TestRandomIsPermutation(t *testing.T) {
	rng := testRNG()
	for n := 1; n <= MaxFingers; n++ {
		for trial := 0; trial < 50; trial++ {
			p, err := Generate(KindRandom, Params{NumFingers: n, BurstMs: 100, RestMs: 67}, rng)
			require.NoError(t, err)
			isPermutation(t, p.Primary, n)
			isPermutation(t, p.Secondary, n)
		}
	}
}

func TestMirroredIsPermutation(t *testing.T) {
	rng := testRNG()
	for n := 1; n <= MaxFingers; n++ {
		p, err := Generate(KindMirrored, Params{NumFingers: n, BurstMs: 100, RestMs: 67, Shuffle: true}, rng)
		require.NoError(t, err)
		isPermutation(t, p.Primary, n)
		assert.Equal(t, p.Primary, p.Secondary)
	}
}

func TestMirrorForcesEquality(t *testing.T) {
	rng := testRNG()
	for _, kind := range []Kind{KindRandom, KindSequential, KindMirrored} {
		for trial := 0; trial < 20; trial++ {
			p, err := Generate(kind, Params{NumFingers: 4, BurstMs: 100, RestMs: 67, Mirror: true}, rng)
			require.NoError(t, err)
			assert.Equal(t, p.Primary, p.Secondary, "kind %s", kind)
		}
	}
}

func TestSequentialOrdering(t *testing.T) {
	p, err := Generate(KindSequential, Params{NumFingers: 4, BurstMs: 100, RestMs: 67}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, p.Primary)
	assert.Equal(t, []int{3, 2, 1, 0}, p.Secondary)
}

func TestZeroJitterExactRest(t *testing.T) {
	// jitterPercent=0 must not touch the random source at all.
	p, err := Generate(KindSequential, Params{NumFingers: 5, BurstMs: 100, RestMs: 67}, nil)
	require.NoError(t, err)
	for _, r := range p.RestMs {
		assert.Equal(t, 67.0, r)
	}
}

func TestJitterBounds(t *testing.T) {
	rng := testRNG()
	const burst, rest, jitter = 100.0, 67.0, 30.0
	half := (burst + rest) * jitter / 100 / 2
	for trial := 0; trial < 200; trial++ {
		p, err := Generate(KindRandom, Params{NumFingers: 5, BurstMs: burst, RestMs: rest, JitterPercent: jitter}, rng)
		require.NoError(t, err)
		for _, r := range p.RestMs {
			assert.GreaterOrEqual(t, r, rest-half-1e-9)
			assert.LessOrEqual(t, r, rest+half+1e-9)
		}
	}
}

func TestJitterClampedAtZero(t *testing.T) {
	rng := testRNG()
	for trial := 0; trial < 200; trial++ {
		p, err := Generate(KindRandom, Params{NumFingers: 3, BurstMs: 200, RestMs: 10, JitterPercent: 100}, rng)
		require.NoError(t, err)
		for _, r := range p.RestMs {
			assert.GreaterOrEqual(t, r, 0.0)
		}
	}
}

func TestRelaxDuration(t *testing.T) {
	p, err := Generate(KindSequential, Params{NumFingers: 4, BurstMs: 100, RestMs: 67}, nil)
	require.NoError(t, err)
	assert.Equal(t, 668.0, p.RelaxMs)
}

func TestParamValidation(t *testing.T) {
	rng := testRNG()
	bad := []Params{
		{NumFingers: 0, BurstMs: 100, RestMs: 67},
		{NumFingers: 6, BurstMs: 100, RestMs: 67},
		{NumFingers: 3, BurstMs: 0, RestMs: 67},
		{NumFingers: 3, BurstMs: 100, RestMs: -1},
		{NumFingers: 3, BurstMs: 100, RestMs: 67, JitterPercent: 101},
	}
	for _, p := range bad {
		_, err := Generate(KindRandom, p, rng)
		assert.Error(t, err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindRandom, KindSequential, KindMirrored} {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("spiral")
	assert.False(t, ok)
}
