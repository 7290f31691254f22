package attention

import (
	"sync"
	"time"

	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/entropy"
)

// Logical periods for the two classifier loops.
const (
	MetricsPeriod  = 2 * time.Second
	ClassifyPeriod = 3 * time.Second
)

// Metrics are the simulated behavioral proxies the rules read.
type Metrics struct {
	HeartRateVariability float64       `json:"hrv"`             // 20–100
	TypingRhythm         float64       `json:"typing_rhythm"`   // 0–1
	ScrollVelocity       float64       `json:"scroll_velocity"` // 0–1
	Dwell                time.Duration `json:"dwell"`           // 500ms–5s
}

// Metric bounds and random-walk step widths.
const (
	HRVMin, HRVMax = 20.0, 100.0
	HRVStep        = 10.0
	TypingStep     = 0.2
	ScrollStep     = 0.3
	DwellMin       = 500 * time.Millisecond
	DwellMax       = 5 * time.Second
	DwellStep      = 500 * time.Millisecond
)

// DefaultMetrics returns the starting proxy values.
func DefaultMetrics() Metrics {
	return Metrics{
		HeartRateVariability: 50,
		TypingRhythm:         0.7,
		ScrollVelocity:       0.3,
		Dwell:                2 * time.Second,
	}
}

// Clamped forces every metric into its range.
func (m Metrics) Clamped() Metrics {
	dwell := biometrics.Clamp(float64(m.Dwell), float64(DwellMin), float64(DwellMax))
	return Metrics{
		HeartRateVariability: biometrics.Clamp(m.HeartRateVariability, HRVMin, HRVMax),
		TypingRhythm:         biometrics.Clamp(m.TypingRhythm, 0, 1),
		ScrollVelocity:       biometrics.Clamp(m.ScrollVelocity, 0, 1),
		Dwell:                time.Duration(dwell),
	}
}

// Rule maps a metric condition to a phase. Rules are evaluated top-down and
// the first match wins.
type Rule struct {
	Label     string
	When      func(Metrics) bool
	Phase     Name
	Intensity float64
}

// Rules is the ordered decision table. Flow outranks stress when both hold.
var Rules = []Rule{
	{
		Label:     "hrv>70 && typing>0.8",
		When:      func(m Metrics) bool { return m.HeartRateVariability > 70 && m.TypingRhythm > 0.8 },
		Phase:     Flow,
		Intensity: 0.9,
	},
	{
		Label:     "hrv>80 && scroll>0.7",
		When:      func(m Metrics) bool { return m.HeartRateVariability > 80 && m.ScrollVelocity > 0.7 },
		Phase:     Stress,
		Intensity: 0.8,
	},
	{
		Label:     "hrv<30 && typing<0.3",
		When:      func(m Metrics) bool { return m.HeartRateVariability < 30 && m.TypingRhythm < 0.3 },
		Phase:     Distracted,
		Intensity: 0.4,
	},
}

// Fallback applies when no rule matches.
var Fallback = Rule{Label: "otherwise", Phase: Calm, Intensity: 0.6}

// Classify runs the rule table against m. The returned index is the matching
// rule's position, or len(Rules) for the fallback.
func Classify(m Metrics) (Name, float64, int) {
	for i, r := range Rules {
		if r.When(m) {
			return r.Phase, r.Intensity, i
		}
	}
	return Fallback.Phase, Fallback.Intensity, len(Rules)
}

// Classifier random-walks the proxy metrics and emits phases.
type Classifier struct {
	rng entropy.Source

	mu      sync.RWMutex
	metrics Metrics
	current Phase
}

// NewClassifier creates a classifier whose current phase is InitialPhase(now).
func NewClassifier(rng entropy.Source, now time.Time) *Classifier {
	return &Classifier{
		rng:     rng,
		metrics: DefaultMetrics(),
		current: InitialPhase(now),
	}
}

// Fluctuate advances every metric one random-walk step.
func (c *Classifier) Fluctuate() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metrics
	c.metrics = Metrics{
		HeartRateVariability: m.HeartRateVariability + entropy.Perturb(c.rng, HRVStep),
		TypingRhythm:         m.TypingRhythm + entropy.Perturb(c.rng, TypingStep),
		ScrollVelocity:       m.ScrollVelocity + entropy.Perturb(c.rng, ScrollStep),
		Dwell:                m.Dwell + time.Duration(entropy.Perturb(c.rng, float64(DwellStep))),
	}.Clamped()
	return c.metrics
}

// Evaluate classifies the current metrics and replaces the current phase.
func (c *Classifier) Evaluate(now time.Time) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, intensity, _ := Classify(c.metrics)
	c.current = Phase{
		Name:      name,
		Intensity: intensity,
		Since:     now,
		Duration:  now.Sub(c.current.Since),
	}
	return c.current
}

// SetMetrics replaces the proxy metrics, clamped.
func (c *Classifier) SetMetrics(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m.Clamped()
}

// Metrics returns the current proxy metrics.
func (c *Classifier) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// Current returns the latest phase.
func (c *Classifier) Current() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
