// Package entropy provides the random sources behind every stochastic
// derivation: random walks, crystal gating, jittered timers, fragment choice.
// Everything takes a Source so tests can script the draws.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float() float64
}

// Seeded is a deterministic source backed by math/rand.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source from seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewSource(seed))}
}

// Float returns a random float64 in [0, 1).
func (s *Seeded) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Crypto draws from crypto/rand. Zero value is ready to use.
type Crypto struct{}

// Float returns a random float64 in [0, 1).
func (Crypto) Float() float64 {
	return cryptoRandFloat()
}

// New returns a Seeded source for a non-zero seed and a Crypto source
// otherwise.
func New(seed int64) Source {
	if seed == 0 {
		return Crypto{}
	}
	return NewSeeded(seed)
}

// Scripted replays a fixed list of values, cycling when exhausted.
// An empty script always yields 0.
type Scripted struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewScripted creates a source that replays values in order.
func NewScripted(values ...float64) *Scripted {
	return &Scripted{values: values}
}

// Float returns the next scripted value.
func (s *Scripted) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// Draws reports how many values have been consumed.
func (s *Scripted) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Perturb returns a uniform offset in [-k/2, +k/2).
func Perturb(src Source, k float64) float64 {
	return (src.Float() - 0.5) * k
}

// Between returns a uniform value in [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float()*(hi-lo)
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
