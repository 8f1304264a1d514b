package entropy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	exprand "golang.org/x/exp/rand"
)

func TestStreamsAreReplayable(t *testing.T) {
	s := NewSource(42)
	a, b := s.Rand(StreamSort), s.Rand(StreamSort)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
	assert.NotEqual(t, s.StreamSeed(StreamSort), s.StreamSeed(StreamSpawn))
	assert.NotEqual(t,
		s.Attempt(StreamRedistrict, 1, 0).Int63(),
		s.Attempt(StreamRedistrict, 1, 1).Int63())
}

func TestAttemptSeedsDoNotCollide(t *testing.T) {
	s := NewSource(42)
	seen := make(map[int64]string)
	for _, st := range []Stream{StreamRedistrict, StreamScoreNoise} {
		for round := 0; round < 500; round++ {
			for n := 0; n < 3; n++ {
				v := s.Attempt(st, round, n).Int63()
				key := fmt.Sprintf("%d/%d/%d", st, round, n)
				if prev, dup := seen[v]; dup {
					t.Fatalf("attempt %s repeats %s", key, prev)
				}
				seen[v] = key
			}
		}
	}
}

func TestAdaptSharesTheStream(t *testing.T) {
	s := NewSource(9)
	a, b := s.Rand(StreamSort), s.Rand(StreamSort)
	src := Adapt(a)
	assert.Equal(t, b.Uint64(), src.Uint64())
	assert.Equal(t, b.Int63(), a.Int63(), "adapter advances the wrapped generator")
	_ = exprand.New(src).Float64()
}

func TestZeroSeedDrawsOne(t *testing.T) {
	s := NewSource(0)
	assert.NotZero(t, s.Seed())
	assert.NotZero(t, s.StreamSeed(StreamSpawn))
}
