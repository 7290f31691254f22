// Package texture maps a pointer position on a circular dial to a time
// texture. The last texture sticks until the next sample or a reset.
package texture

import (
	"math"
	"sync"

	"github.com/talgya/interval/internal/biometrics"
)

// Texture describes how time should feel.
type Texture struct {
	Compression     float64 `json:"compression"`      // -1 compress … +1 expand
	EmotionalWeight float64 `json:"emotional_weight"` // 0–1
	RecallIntensity float64 `json:"recall_intensity"` // 0–1
}

// Point is a pointer offset from the dial center.
type Point struct {
	X, Y float64
}

// Neutral is the reset texture.
var Neutral = Texture{Compression: 0, EmotionalWeight: 0.5, RecallIntensity: 0.5}

// Map converts a dial offset to a texture. A zero offset has no direction and
// maps to Neutral, as does a non-positive radius.
func Map(offset Point, dialRadius float64) Texture {
	length := math.Hypot(offset.X, offset.Y)
	if length == 0 || !(dialRadius > 0) || math.IsNaN(length) {
		return Neutral
	}
	distance := math.Min(length/dialRadius, 1)
	angle := math.Atan2(offset.Y, offset.X)
	return Texture{
		Compression:     biometrics.Clamp(math.Cos(angle)*distance, -1, 1),
		EmotionalWeight: biometrics.Clamp(math.Sin(angle)*distance*0.5+0.5, 0, 1),
		RecallIntensity: distance,
	}
}

// Label names the compression band for display.
func (t Texture) Label() string {
	switch {
	case t.Compression > 0.3:
		return "expanding"
	case t.Compression < -0.3:
		return "compressing"
	default:
		return "natural flow"
	}
}

// Mapper retains the last sampled texture and pointer offset.
type Mapper struct {
	mu      sync.RWMutex
	texture Texture
	offset  Point
}

// NewMapper creates a mapper holding the neutral texture.
func NewMapper() *Mapper {
	return &Mapper{texture: Neutral}
}

// Sample maps a new pointer offset and stores the result.
func (m *Mapper) Sample(offset Point, dialRadius float64) Texture {
	t := Map(offset, dialRadius)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texture = t
	m.offset = offset
	return t
}

// Reset restores the neutral texture and clears the stored offset.
func (m *Mapper) Reset() Texture {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texture = Neutral
	m.offset = Point{}
	return m.texture
}

// Current returns the last texture.
func (m *Mapper) Current() Texture {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.texture
}

// Offset returns the last pointer offset.
func (m *Mapper) Offset() Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset
}
