// Package ambient derives the background field: overall biometric harmony and
// a slowly drifting hue around the selected environment's base color.
// Drift comes from simplex noise so it wanders smoothly instead of jumping.
package ambient

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/interval/internal/biometrics"
)

// ErrUnknownEnvironment is returned for an environment key with no preset.
var ErrUnknownEnvironment = errors.New("ambient: unknown environment")

// MaxDrift is the largest hue excursion from the base, in degrees.
const MaxDrift = 30.0

// noiseScale slows time down before sampling noise.
const noiseScale = 0.1

// Environment is a visual preset.
type Environment struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	BaseHue        float64 `json:"base_hue"`
	Particles      int     `json:"particles"`
	FlowSpeed      float64 `json:"flow_speed"`
	ResonanceDepth float64 `json:"resonance_depth"`
	Description    string  `json:"description"`
}

// DefaultEnvironment is used when none is configured.
const DefaultEnvironment = "oceanic"

// Environments are the built-in presets.
var Environments = map[string]Environment{
	"cosmic":  {Key: "cosmic", Name: "Cosmic Void", BaseHue: 250, Particles: 12, FlowSpeed: 0.3, ResonanceDepth: 0.8, Description: "Vast temporal expanses"},
	"oceanic": {Key: "oceanic", Name: "Temporal Depths", BaseHue: 195, Particles: 8, FlowSpeed: 0.5, ResonanceDepth: 0.6, Description: "Deep current awareness"},
	"forest":  {Key: "forest", Name: "Living Moments", BaseHue: 120, Particles: 15, FlowSpeed: 0.7, ResonanceDepth: 0.4, Description: "Organic time rhythms"},
	"crystal": {Key: "crystal", Name: "Crystalline Time", BaseHue: 300, Particles: 20, FlowSpeed: 0.2, ResonanceDepth: 0.9, Description: "Geometric temporal patterns"},
	"ember":   {Key: "ember", Name: "Warm Temporality", BaseHue: 25, Particles: 10, FlowSpeed: 0.6, ResonanceDepth: 0.5, Description: "Gentle temporal warmth"},
}

// EnvironmentKeys returns the preset keys in sorted order.
func EnvironmentKeys() []string {
	keys := make([]string, 0, len(Environments))
	for k := range Environments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// State is the latest ambient reading.
type State struct {
	Harmony     float64 `json:"harmony"`
	Hue         float64 `json:"hue"`
	Environment string  `json:"environment"`
}

// Field tracks the environment and the derived ambient state.
type Field struct {
	noise opensimplex.Noise
	start time.Time

	mu    sync.RWMutex
	env   Environment
	state State
}

// NewField creates a field in the default environment.
func NewField(seed int64, start time.Time) *Field {
	env := Environments[DefaultEnvironment]
	return &Field{
		noise: opensimplex.NewNormalized(seed),
		start: start,
		env:   env,
		state: State{Hue: env.BaseHue, Environment: env.Key},
	}
}

// SetEnvironment switches preset.
func (f *Field) SetEnvironment(key string) error {
	env, ok := Environments[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env = env
	f.state.Environment = key
	return nil
}

// Environment returns the active preset.
func (f *Field) Environment() Environment {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env
}

// Update recomputes harmony and hue for v at now.
func (f *Field) Update(now time.Time, v biometrics.Vector) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	harmony := v.Harmony()
	elapsed := now.Sub(f.start).Seconds()
	n := f.noise.Eval2(elapsed*f.env.FlowSpeed*noiseScale, harmony)
	drift := (biometrics.Clamp(n, 0, 1)*2 - 1) * MaxDrift

	f.state = State{
		Harmony:     harmony,
		Hue:         math.Mod(f.env.BaseHue+drift+360, 360),
		Environment: f.env.Key,
	}
	return f.state
}

// Current returns the last state.
func (f *Field) Current() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}
