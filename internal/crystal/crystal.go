// Package crystal captures significant moments as immutable memory crystals
// and keeps a bounded, insertion-ordered collection of them.
package crystal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/entropy"
)

// Defaults for the significance gate and collection.
const (
	DefaultCapacity   = 12
	DefaultThreshold  = 0.6
	DefaultAcceptance = 0.7 // a draw must exceed this, so ~30% of significant moments crystallize
	MinInterval       = 5 * time.Second
	MaxInterval       = 15 * time.Second

	FadeWindow     = 300 * time.Second
	MinOpacity     = 0.3
	unknownHueBase = 195.0
	unknownHueSpan = 40.0
)

// Position is a placement on the display in percent of each axis.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Crystal is an immutable snapshot of a significant moment.
type Crystal struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	Biometrics   biometrics.Vector `json:"biometrics"`
	Phase        attention.Phase   `json:"phase"`
	Significance float64           `json:"significance"`
	Position     Position          `json:"position"`
	Hue          float64           `json:"hue"`
	Resonance    float64           `json:"resonance"`
}

// Age returns how long ago the crystal formed.
func (c Crystal) Age(now time.Time) time.Duration {
	age := now.Sub(c.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Opacity is the display fade: linear over five minutes, floored at 0.3.
func Opacity(c Crystal, now time.Time) float64 {
	return math.Max(MinOpacity, 1-c.Age(now).Seconds()/FadeWindow.Seconds())
}

// Significance blends phase intensity with attention.
func Significance(phase attention.Phase, v biometrics.Vector) float64 {
	return (phase.Intensity + v.AttentionLevel) / 2
}

// Config tunes the gate, capacity and evaluation window.
type Config struct {
	Capacity    int
	Threshold   float64
	Acceptance  float64
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultConfig returns the standard gate.
func DefaultConfig() Config {
	return Config{
		Capacity:    DefaultCapacity,
		Threshold:   DefaultThreshold,
		Acceptance:  DefaultAcceptance,
		MinInterval: MinInterval,
		MaxInterval: MaxInterval,
	}
}

// System owns the crystal collection and the current selection.
type System struct {
	cfg Config
	rng entropy.Source

	mu       sync.RWMutex
	crystals []Crystal
	selected string
}

// NewSystem creates an empty crystal system.
func NewSystem(cfg Config, rng entropy.Source) *System {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MinInterval <= 0 || cfg.MaxInterval < cfg.MinInterval {
		cfg.MinInterval, cfg.MaxInterval = MinInterval, MaxInterval
	}
	return &System{cfg: cfg, rng: rng}
}

// NextInterval draws the wait until the next evaluation, 5–15 s by default.
func (s *System) NextInterval() time.Duration {
	return time.Duration(entropy.Between(s.rng, float64(s.cfg.MinInterval), float64(s.cfg.MaxInterval)))
}

// Evaluate gates crystal formation on significance and a random draw. When
// both pass it appends a new crystal, evicting the oldest past capacity.
func (s *System) Evaluate(now time.Time, v biometrics.Vector, phase attention.Phase) (Crystal, bool) {
	sig := Significance(phase, v)
	if sig <= s.cfg.Threshold {
		return Crystal{}, false
	}
	if s.rng.Float() <= s.cfg.Acceptance {
		return Crystal{}, false
	}

	c := Crystal{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		Biometrics:   v,
		Phase:        phase,
		Significance: sig,
		Position: Position{
			X: entropy.Between(s.rng, 20, 80),
			Y: entropy.Between(s.rng, 20, 80),
		},
		Hue:       s.hue(phase.Name),
		Resonance: sig,
	}
	s.add(c)
	return c, true
}

func (s *System) hue(name attention.Name) float64 {
	switch name {
	case attention.Stress:
		return 0
	case attention.Calm:
		return 190
	case attention.Flow:
		return 280
	default:
		return unknownHueBase + s.rng.Float()*unknownHueSpan
	}
}

func (s *System) add(c Crystal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crystals = append(s.crystals, c)
	if over := len(s.crystals) - s.cfg.Capacity; over > 0 {
		evicted := s.crystals[:over]
		for _, e := range evicted {
			if e.ID == s.selected {
				s.selected = ""
			}
		}
		s.crystals = append([]Crystal(nil), s.crystals[over:]...)
	}
}

// Crystals returns a copy of the collection, oldest first.
func (s *System) Crystals() []Crystal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Crystal, len(s.crystals))
	copy(out, s.crystals)
	return out
}

// Len returns the collection size.
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.crystals)
}

// Select toggles the selection: choosing the selected id again clears it.
// Returns the id now selected ("" for none).
func (s *System) Select(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.selected {
		s.selected = ""
	} else {
		s.selected = id
	}
	return s.selected
}

// Selected returns the selected crystal, if it is still in the collection.
func (s *System) Selected() (Crystal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return Crystal{}, false
	}
	for _, c := range s.crystals {
		if c.ID == s.selected {
			return c, true
		}
	}
	return Crystal{}, false
}

// Detail is the consumer-facing summary of a crystal.
type Detail struct {
	Title     string  `json:"title"`
	Captured  string  `json:"captured"`
	Intensity int     `json:"intensity_pct"`
	Heart     int     `json:"heart_pct"`
	Breath    int     `json:"breath_pct"`
	Attention int     `json:"attention_pct"`
	Opacity   float64 `json:"opacity"`
}

// Describe summarises c relative to now.
func Describe(c Crystal, now time.Time) Detail {
	return Detail{
		Title:     fmt.Sprintf("%s state", c.Phase.Name),
		Captured:  humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
		Intensity: pct(c.Significance),
		Heart:     pct(c.Biometrics.HeartRate),
		Breath:    pct(c.Biometrics.BreathingRhythm),
		Attention: pct(c.Biometrics.AttentionLevel),
		Opacity:   Opacity(c, now),
	}
}

func pct(v float64) int {
	return int(math.Round(v * 100))
}
