// Pipeline ties together all derivation stages and runs them on the engine.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/audio"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/breath"
	"github.com/talgya/interval/internal/crystal"
	"github.com/talgya/interval/internal/entropy"
	"github.com/talgya/interval/internal/harmonic"
	"github.com/talgya/interval/internal/moment"
	"github.com/talgya/interval/internal/poetry"
	"github.com/talgya/interval/internal/texture"
)

// MaxEvents bounds the undrained event buffer.
const MaxEvents = 1000

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 64

// Event categories.
const (
	CategoryPhase   = "phase"
	CategoryCrystal = "crystal"
	CategoryPoetry  = "poetry"
	CategoryMoment  = "moment"
)

// Event is a notable occurrence in the session.
type Event struct {
	Tick        uint64    `json:"tick"`
	At          time.Time `json:"at"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Payload     string    `json:"payload,omitempty"` // JSON detail
}

// Stats counts what the session has produced.
type Stats struct {
	PhaseTransitions int `json:"phase_transitions"`
	CrystalsFormed   int `json:"crystals_formed"`
	FragmentsShown   int `json:"fragments_shown"`
	MomentsRecorded  int `json:"moments_recorded"`
	DroppedEvents    int `json:"dropped_events"`
}

// Clock supplies logical time. *Engine satisfies it.
type Clock interface {
	Now() time.Time
	Tick() uint64
}

// Timing holds the fixed task periods. Crystal and poetry windows live in
// their own configs because they are redrawn each firing.
type Timing struct {
	Biometrics time.Duration
	Metrics    time.Duration
	Classify   time.Duration
	Breath     time.Duration
	Moment     time.Duration
	Ambient    time.Duration
}

// DefaultTiming returns the standard cadences.
func DefaultTiming() Timing {
	return Timing{
		Biometrics: biometrics.TickPeriod,
		Metrics:    attention.MetricsPeriod,
		Classify:   attention.ClassifyPeriod,
		Breath:     breath.TickPeriod,
		Moment:     moment.Period,
		Ambient:    time.Second,
	}
}

// Options configures a Pipeline.
type Options struct {
	Rand        entropy.Source // nil draws from crypto/rand
	NoiseSeed   int64
	Start       time.Time
	Initial     biometrics.Vector
	Crystal     crystal.Config
	Poetry      poetry.Config
	Environment string
	Audio       audio.Opener // nil means no device
}

// Pipeline holds all derived state and is its single writer.
type Pipeline struct {
	sim        *biometrics.Simulator
	classifier *attention.Classifier
	textures   *texture.Mapper
	crystals   *crystal.System
	breath     *breath.Synchronizer
	poetry     *poetry.Engine
	ambient    *ambient.Field
	moments    *moment.Stream
	synth      *audio.Synth

	clock Clock

	mu         sync.RWMutex
	phase      attention.Phase
	overridden bool
	harmonics  []harmonic.Partial
	events     []Event
	stats      Stats

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewPipeline builds every stage from opts and derives the initial harmonics.
func NewPipeline(opts Options) (*Pipeline, error) {
	rng := opts.Rand
	if rng == nil {
		rng = entropy.Crypto{}
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	initial := opts.Initial
	if initial == (biometrics.Vector{}) {
		initial = biometrics.DefaultVector()
	}
	crystalCfg := opts.Crystal
	if crystalCfg == (crystal.Config{}) {
		crystalCfg = crystal.DefaultConfig()
	}

	p := &Pipeline{
		sim:        biometrics.NewSimulator(rng, initial),
		classifier: attention.NewClassifier(rng, start),
		textures:   texture.NewMapper(),
		crystals:   crystal.NewSystem(crystalCfg, rng),
		breath:     breath.NewSynchronizer(),
		poetry:     poetry.NewEngine(opts.Poetry, rng),
		ambient:    ambient.NewField(opts.NoiseSeed, start),
		moments:    moment.NewStream(),
		synth:      audio.NewSynth(opts.Audio),
		clock:      fixedClock{start},
		phase:      attention.InitialPhase(start),
	}
	if opts.Environment != "" {
		if err := p.ambient.SetEnvironment(opts.Environment); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	p.refreshHarmonics()
	p.ambient.Update(start, p.sim.Current())
	return p, nil
}

// fixedClock holds the start time until the pipeline is attached.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
func (c fixedClock) Tick() uint64   { return 0 }

// Attach schedules every stage on e and shows the first fragment. The
// pipeline reads logical time from e from then on.
func (p *Pipeline) Attach(e *Engine, t Timing) {
	p.clock = e
	def := DefaultTiming()
	pick := func(d, fallback time.Duration) time.Duration {
		if d <= 0 {
			return fallback
		}
		return d
	}

	e.Schedule("metrics", Every(pick(t.Metrics, def.Metrics)), func(time.Time) { p.classifier.Fluctuate() })
	e.Schedule("biometrics", Every(pick(t.Biometrics, def.Biometrics)), p.TickBiometrics)
	e.Schedule("classify", Every(pick(t.Classify, def.Classify)), p.Classify)
	e.Schedule("breath", Every(pick(t.Breath, def.Breath)), p.TickBreath)
	e.Schedule("crystal", p.crystals.NextInterval, p.EvaluateCrystal)
	e.Schedule("poetry", p.poetry.NextInterval, p.ShowPoetry)
	e.Schedule("moment", Every(pick(t.Moment, def.Moment)), p.RecordMoment)
	e.Schedule("ambient", Every(pick(t.Ambient, def.Ambient)), p.UpdateAmbient)

	p.ShowPoetry(e.Now())
}

func (p *Pipeline) now() time.Time {
	return p.clock.Now()
}

// Now returns the pipeline's logical time.
func (p *Pipeline) Now() time.Time {
	return p.now()
}

// TickBiometrics advances the simulator one step and refreshes what depends on it.
func (p *Pipeline) TickBiometrics(now time.Time) {
	v := p.sim.Tick()
	p.refreshHarmonics()
	p.ambient.Update(now, v)
	slog.Debug("biometrics tick", "heart", v.HeartRate, "breath", v.BreathingRhythm,
		"movement", v.MovementIntensity, "attention", v.AttentionLevel)
}

// Classify evaluates the attention metrics and installs the result, unless an
// override is active.
func (p *Pipeline) Classify(now time.Time) {
	p.mu.RLock()
	overridden := p.overridden
	p.mu.RUnlock()
	if overridden {
		return
	}
	p.applyPhase(now, p.classifier.Evaluate(now), sourceClassifier)
}

// SetPhaseOverride installs ph as the current phase and suspends
// classification until ClearPhaseOverride.
func (p *Pipeline) SetPhaseOverride(ph attention.Phase) {
	now := p.now()
	ph = ph.Normalize()
	if ph.Since.IsZero() {
		ph.Since = now
	}
	p.applyPhase(now, ph, sourceOverride)
}

// ClearPhaseOverride resumes classification on the next classify tick.
func (p *Pipeline) ClearPhaseOverride() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overridden = false
}

// Overridden reports whether a phase override is active.
func (p *Pipeline) Overridden() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.overridden
}

// Phase sources passed to applyPhase.
const (
	sourceClassifier = "classifier"
	sourceOverride   = "override"
)

// applyPhase installs next. The override flag is checked and set under the
// same lock as the swap, so a classification racing an override never
// replaces it.
func (p *Pipeline) applyPhase(now time.Time, next attention.Phase, source string) {
	p.mu.Lock()
	switch source {
	case sourceClassifier:
		if p.overridden {
			p.mu.Unlock()
			return
		}
	case sourceOverride:
		p.overridden = true
	}
	prev := p.phase
	p.phase = next
	changed := prev.Name != next.Name
	if changed {
		p.stats.PhaseTransitions++
	}
	p.mu.Unlock()

	if shift := attention.HeartRateShift(prev, next); shift != 0 {
		p.sim.ShiftHeartRate(shift)
	}
	if changed {
		slog.Info("phase transition", "from", prev.Name, "to", next.Name,
			"intensity", next.Intensity, "source", source)
		p.record(now, CategoryPhase, fmt.Sprintf("%s → %s", prev.Name, next.Name), next)
	}
	p.refreshHarmonics()
}

// TickBreath advances the breath synchronizer against current breathing.
func (p *Pipeline) TickBreath(time.Time) {
	p.breath.Tick(p.sim.Current().BreathingRhythm)
}

// EvaluateCrystal runs one crystal-formation check.
func (p *Pipeline) EvaluateCrystal(now time.Time) {
	c, ok := p.crystals.Evaluate(now, p.sim.Current(), p.Phase())
	if !ok {
		return
	}
	p.mu.Lock()
	p.stats.CrystalsFormed++
	p.mu.Unlock()
	slog.Info("memory crystal formed", "id", c.ID, "phase", c.Phase.Name, "significance", c.Significance)
	p.record(now, CategoryCrystal, fmt.Sprintf("crystal formed during %s", c.Phase.Name), c)
}

// ShowPoetry displays a new fragment for the current phase.
func (p *Pipeline) ShowPoetry(now time.Time) {
	d := p.poetry.Show(now, p.Phase().Name, p.sim.Current().AttentionLevel)
	p.mu.Lock()
	p.stats.FragmentsShown++
	p.mu.Unlock()
	slog.Debug("poetry fragment", "text", d.Text, "pool", d.Pool)
	p.record(now, CategoryPoetry, d.Text, d)
}

// RecordMoment samples the texture into the moment stream.
func (p *Pipeline) RecordMoment(now time.Time) {
	m := p.moments.Record(now, p.textures.Current(), p.Phase().Name)
	p.mu.Lock()
	p.stats.MomentsRecorded++
	p.mu.Unlock()
	p.record(now, CategoryMoment, fmt.Sprintf("moment during %s", m.Phase), m)
}

// UpdateAmbient recomputes the ambient field.
func (p *Pipeline) UpdateAmbient(now time.Time) {
	p.ambient.Update(now, p.sim.Current())
}

func (p *Pipeline) refreshHarmonics() {
	h := harmonic.Generate(p.sim.Current(), p.Phase())
	p.mu.Lock()
	p.harmonics = h
	p.mu.Unlock()
	p.synth.Render(h)
}

func (p *Pipeline) record(now time.Time, category, desc string, payload any) {
	ev := Event{
		Tick:        p.clock.Tick(),
		At:          now,
		Category:    category,
		Description: desc,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = string(b)
		}
	}

	p.mu.Lock()
	p.events = append(p.events, ev)
	if over := len(p.events) - MaxEvents; over > 0 {
		p.events = append([]Event(nil), p.events[over:]...)
		p.stats.DroppedEvents += over
	}
	p.mu.Unlock()

	p.publish(ev)
}

func (p *Pipeline) publish(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than stall the engine.
		}
	}
}

// Subscribe returns a channel that receives every event recorded from now on.
// A subscriber that falls behind misses events.
func (p *Pipeline) Subscribe() (int, <-chan Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.subs == nil {
		p.subs = make(map[int]chan Event)
	}
	p.nextSub++
	ch := make(chan Event, subscriberBuffer)
	p.subs[p.nextSub] = ch
	return p.nextSub, ch
}

// Unsubscribe closes and removes a subscription.
func (p *Pipeline) Unsubscribe(id int) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if ch, ok := p.subs[id]; ok {
		close(ch)
		delete(p.subs, id)
	}
}

// DrainEvents returns and clears the buffered events, oldest first.
func (p *Pipeline) DrainEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

// Biometrics returns the current vector.
func (p *Pipeline) Biometrics() biometrics.Vector {
	return p.sim.Current()
}

// OverrideBiometrics replaces the vector, clamped.
func (p *Pipeline) OverrideBiometrics(v biometrics.Vector) biometrics.Vector {
	v = p.sim.Override(v)
	p.refreshHarmonics()
	return v
}

// Phase returns the current phase.
func (p *Pipeline) Phase() attention.Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// Metrics returns the attention proxy metrics.
func (p *Pipeline) Metrics() attention.Metrics {
	return p.classifier.Metrics()
}

// SetMetrics replaces the attention proxy metrics, clamped.
func (p *Pipeline) SetMetrics(m attention.Metrics) {
	p.classifier.SetMetrics(m)
}

// Texture returns the current time texture.
func (p *Pipeline) Texture() texture.Texture {
	return p.textures.Current()
}

// PointerSample maps a pointer offset from the dial center to a texture.
func (p *Pipeline) PointerSample(offset texture.Point, dialRadius float64) texture.Texture {
	return p.textures.Sample(offset, dialRadius)
}

// ResetTexture returns the texture to neutral.
func (p *Pipeline) ResetTexture() texture.Texture {
	return p.textures.Reset()
}

// Crystals returns the crystal collection, oldest first.
func (p *Pipeline) Crystals() []crystal.Crystal {
	return p.crystals.Crystals()
}

// SelectCrystal toggles the selection and returns the selected id.
func (p *Pipeline) SelectCrystal(id string) string {
	return p.crystals.Select(id)
}

// SelectedCrystal describes the selected crystal, if any.
func (p *Pipeline) SelectedCrystal() (crystal.Detail, bool) {
	c, ok := p.crystals.Selected()
	if !ok {
		return crystal.Detail{}, false
	}
	return crystal.Describe(c, p.now()), true
}

// Harmonics returns the current partials.
func (p *Pipeline) Harmonics() []harmonic.Partial {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]harmonic.Partial, len(p.harmonics))
	copy(out, p.harmonics)
	return out
}

// Sync returns the latest breath sample.
func (p *Pipeline) Sync() breath.Sample {
	return p.breath.Current()
}

// Poetry returns the fragment on display and its opacity now.
func (p *Pipeline) Poetry() poetry.Fragment {
	return p.poetry.Current().At(p.now())
}

// Ambient returns the ambient state.
func (p *Pipeline) Ambient() ambient.State {
	return p.ambient.Current()
}

// SetEnvironment switches the ambient preset.
func (p *Pipeline) SetEnvironment(key string) error {
	if err := p.ambient.SetEnvironment(key); err != nil {
		return err
	}
	p.ambient.Update(p.now(), p.sim.Current())
	return nil
}

// Moments returns the recorded moments, oldest first.
func (p *Pipeline) Moments() []moment.Moment {
	return p.moments.Recent(-1)
}

// EnableAudio acquires the audio device and plays the current partials.
// Failure leaves the pipeline silent and otherwise unaffected.
func (p *Pipeline) EnableAudio() error {
	if err := p.synth.Enable(); err != nil {
		return err
	}
	p.synth.Render(p.Harmonics())
	return nil
}

// AudioEnabled reports whether the audio device is held.
func (p *Pipeline) AudioEnabled() bool {
	return p.synth.Enabled()
}

// Stats returns the session counters.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Close releases the audio device.
func (p *Pipeline) Close() {
	p.synth.Close()
}

// Snapshot is everything a consumer renders, read at one instant.
type Snapshot struct {
	Tick       uint64             `json:"tick"`
	At         time.Time          `json:"at"`
	Biometrics biometrics.Vector  `json:"biometrics"`
	Phase      attention.Phase    `json:"phase"`
	Texture    texture.Texture    `json:"texture"`
	Crystals   []crystal.Crystal  `json:"crystals"`
	Harmonics  []harmonic.Partial `json:"harmonics"`
	Sync       breath.Sample      `json:"sync"`
	Poetry     poetry.Fragment    `json:"poetry"`
	Ambient    ambient.State      `json:"ambient"`
	Moments    []moment.Moment    `json:"moments"`
	Stats      Stats              `json:"stats"`
}

// Snapshot reads every stage.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Tick:       p.clock.Tick(),
		At:         p.now(),
		Biometrics: p.Biometrics(),
		Phase:      p.Phase(),
		Texture:    p.Texture(),
		Crystals:   p.Crystals(),
		Harmonics:  p.Harmonics(),
		Sync:       p.Sync(),
		Poetry:     p.Poetry(),
		Ambient:    p.Ambient(),
		Moments:    p.Moments(),
		Stats:      p.Stats(),
	}
}
