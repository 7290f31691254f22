// Package poetry picks short text fragments keyed by the current phase and
// times how long each one stays on screen.
package poetry

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/entropy"
)

//go:embed fragments.yaml
var defaultFragments []byte

// NeutralPool is the fallback pool name.
const NeutralPool = "neutral"

// Timing.
const (
	MinInterval  = 8 * time.Second
	MaxInterval  = 12 * time.Second
	BaseDisplay  = 3 * time.Second
	ExtraDisplay = 2 * time.Second // scaled by attention
)

// Pools maps a pool name to its fragments.
type Pools map[string][]string

// ParsePools decodes YAML pools. A non-empty neutral pool is required.
func ParsePools(data []byte) (Pools, error) {
	var p Pools
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse fragment pools: %w", err)
	}
	if len(p[NeutralPool]) == 0 {
		return nil, fmt.Errorf("fragment pools: %q pool is missing or empty", NeutralPool)
	}
	return p, nil
}

// LoadPools reads pools from a YAML file.
func LoadPools(path string) (Pools, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fragment pools: %w", err)
	}
	return ParsePools(data)
}

// DefaultPools returns the built-in pools.
func DefaultPools() Pools {
	p, err := ParsePools(defaultFragments)
	if err != nil {
		panic(err)
	}
	return p
}

// Display is the fragment currently on screen.
type Display struct {
	Text    string    `json:"text"`
	Pool    string    `json:"pool"`
	ShownAt time.Time `json:"shown_at"`
	FadeAt  time.Time `json:"fade_at"`
}

// Opacity is 1 while the fragment is showing and 0 once it has faded.
func (d Display) Opacity(now time.Time) float64 {
	if d.Text == "" || !now.Before(d.FadeAt) {
		return 0
	}
	return 1
}

// Fragment is what a consumer renders.
type Fragment struct {
	Text    string  `json:"text"`
	Opacity float64 `json:"opacity"`
}

// At resolves the display at now.
func (d Display) At(now time.Time) Fragment {
	return Fragment{Text: d.Text, Opacity: d.Opacity(now)}
}

// DisplayDuration is how long a fragment shows for a given attention level.
func DisplayDuration(attentionLevel float64) time.Duration {
	return BaseDisplay + time.Duration(attentionLevel*float64(ExtraDisplay))
}

// Config sets the pools and the interval between fragments.
type Config struct {
	Pools       Pools
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultConfig uses the built-in pools and an 8–12 s interval.
func DefaultConfig() Config {
	return Config{
		Pools:       DefaultPools(),
		MinInterval: MinInterval,
		MaxInterval: MaxInterval,
	}
}

// Engine selects fragments. It keeps only the current display.
type Engine struct {
	cfg Config
	rng entropy.Source

	mu      sync.RWMutex
	display Display
}

// NewEngine creates an engine. Nil pools use the built-in set, a missing
// neutral pool is taken from the built-in set, and an unset window uses the
// default.
func NewEngine(cfg Config, rng entropy.Source) *Engine {
	if cfg.Pools == nil {
		cfg.Pools = DefaultPools()
	}
	if len(cfg.Pools[NeutralPool]) == 0 {
		pools := make(Pools, len(cfg.Pools)+1)
		for k, v := range cfg.Pools {
			pools[k] = v
		}
		pools[NeutralPool] = DefaultPools()[NeutralPool]
		cfg.Pools = pools
	}
	if cfg.MinInterval <= 0 || cfg.MaxInterval < cfg.MinInterval {
		cfg.MinInterval, cfg.MaxInterval = MinInterval, MaxInterval
	}
	return &Engine{cfg: cfg, rng: rng}
}

// Pick chooses a fragment uniformly from the pool named after phase, falling
// back to the neutral pool. It returns the text and the pool used.
func (e *Engine) Pick(phase attention.Name) (string, string) {
	key := string(phase)
	pool := e.cfg.Pools[key]
	if len(pool) == 0 {
		key = NeutralPool
		pool = e.cfg.Pools[key]
	}
	i := int(e.rng.Float() * float64(len(pool)))
	if i >= len(pool) {
		i = len(pool) - 1
	}
	return pool[i], key
}

// Show picks and displays a fragment for phase, fading after a duration set
// by attention.
func (e *Engine) Show(now time.Time, phase attention.Name, attentionLevel float64) Display {
	text, pool := e.Pick(phase)
	d := Display{
		Text:    text,
		Pool:    pool,
		ShownAt: now,
		FadeAt:  now.Add(DisplayDuration(attentionLevel)),
	}
	e.mu.Lock()
	e.display = d
	e.mu.Unlock()
	return d
}

// Current returns the last display.
func (e *Engine) Current() Display {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.display
}

// NextInterval draws the wait before the next fragment.
func (e *Engine) NextInterval() time.Duration {
	return time.Duration(entropy.Between(e.rng, float64(e.cfg.MinInterval), float64(e.cfg.MaxInterval)))
}

// Pool returns the fragments of a named pool.
func (e *Engine) Pool(name string) []string {
	return e.cfg.Pools[name]
}
