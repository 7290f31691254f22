// Package moment records a rolling stream of moments sculpted from the time
// texture and the phase in effect when each was taken.
package moment

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/texture"
)

// Period between recorded moments.
const Period = 5 * time.Second

// MaxMoments bounds the stream.
const MaxMoments = 20

// Moment is one recorded instant.
type Moment struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	EmotionalWeight float64        `json:"emotional_weight"`
	RecallIntensity float64        `json:"recall_intensity"`
	Phase           attention.Name `json:"phase"`
}

// Hue is the display color for a moment taken during phase.
func Hue(phase attention.Name) float64 {
	switch phase {
	case attention.Flow:
		return 45
	case attention.Stress:
		return 0
	case attention.Calm:
		return 190
	case attention.Distracted:
		return 280
	default:
		return 195
	}
}

// Glow is the moment's brightness under the current phase intensity.
func Glow(m Moment, intensity float64) float64 {
	return m.RecallIntensity * intensity
}

// Stream keeps the most recent moments, oldest first.
type Stream struct {
	mu      sync.RWMutex
	moments []Moment
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Record appends a moment built from t and phase, dropping the oldest past
// MaxMoments.
func (s *Stream) Record(now time.Time, t texture.Texture, phase attention.Name) Moment {
	m := Moment{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		EmotionalWeight: t.EmotionalWeight,
		RecallIntensity: t.RecallIntensity,
		Phase:           phase,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.moments = append(s.moments, m)
	if len(s.moments) > MaxMoments {
		s.moments = append([]Moment(nil), s.moments[len(s.moments)-MaxMoments:]...)
	}
	return m
}

// Recent returns up to n of the newest moments, oldest first.
func (s *Stream) Recent(n int) []Moment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.moments) || n < 0 {
		n = len(s.moments)
	}
	out := make([]Moment, n)
	copy(out, s.moments[len(s.moments)-n:])
	return out
}

// Len returns the number of stored moments.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.moments)
}
