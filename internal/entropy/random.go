// Package entropy derives the seeded random streams of a run. Each phase of
// the simulation draws from its own stream so that changing how often one
// phase consumes randomness does not perturb the others under a fixed seed.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"

	exprand "golang.org/x/exp/rand"
)

// Stream identifies an independent random sequence of a run.
type Stream int64

const (
	StreamSpawn Stream = iota + 1
	StreamSort
	StreamRedistrict
	StreamScoreNoise
	StreamGenerate
)

// Source hands out per-stream generators for one run.
type Source struct {
	seed int64
}

// NewSource creates a source. A zero seed draws one from crypto/rand so the
// run remains replayable from the logged value.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
		slog.Debug("drew random seed", "seed", seed)
	}
	return &Source{seed: seed}
}

// Seed returns the base seed of the run.
func (s *Source) Seed() int64 { return s.seed }

// Rand returns a fresh generator for a stream. Calling it twice with the
// same stream yields identical sequences.
func (s *Source) Rand(st Stream) *mrand.Rand {
	return mrand.New(mrand.NewSource(s.StreamSeed(st)))
}

// StreamSeed returns the derived seed of a stream. It is never zero.
func (s *Source) StreamSeed(st Stream) int64 {
	return derive(uint64(s.seed), uint64(st))
}

// Attempt returns a generator for the n-th retry of a stream in a round,
// used when a failed search must be repeated with a fresh seed.
func (s *Source) Attempt(st Stream, round, n int) *mrand.Rand {
	return mrand.New(mrand.NewSource(derive(uint64(s.seed), uint64(st), uint64(round), uint64(n))))
}

// derive folds each part into a splitmix64 chain.
func derive(parts ...uint64) int64 {
	h := uint64(0)
	for _, p := range parts {
		h = splitmix64(h ^ p)
	}
	if v := int64(h >> 1); v != 0 {
		return v
	}
	return 1
}

func splitmix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Adapt exposes r as a golang.org/x/exp/rand source for gonum
// distributions. Draws advance r itself.
func Adapt(r *mrand.Rand) exprand.Source {
	return adapted{r}
}

type adapted struct{ r *mrand.Rand }

func (a adapted) Uint64() uint64 { return a.r.Uint64() }
func (a adapted) Seed(seed uint64) { a.r.Seed(int64(seed)) }

// CryptoSeed returns a non-zero positive seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
