package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/audio"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/entropy"
	"github.com/talgya/interval/internal/harmonic"
	"github.com/talgya/interval/internal/texture"
)

// still is a source whose perturbations are all zero.
func still() entropy.Source { return entropy.NewScripted(0.5) }

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Rand == nil {
		opts.Rand = still()
	}
	if opts.Start.IsZero() {
		opts.Start = epoch
	}
	p, err := NewPipeline(opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestInitialState(t *testing.T) {
	p := newPipeline(t, Options{})

	assert.Equal(t, biometrics.DefaultVector(), p.Biometrics())
	assert.Equal(t, attention.InitialPhase(epoch), p.Phase())
	assert.Equal(t, texture.Neutral, p.Texture())
	assert.Empty(t, p.Crystals())
	assert.Len(t, p.Harmonics(), 3+harmonic.MovementCount(p.Biometrics()))
	assert.Equal(t, ambient.DefaultEnvironment, p.Ambient().Environment)
}

func TestPhaseNudgeAppliedOncePerTransition(t *testing.T) {
	p := newPipeline(t, Options{Initial: biometrics.Vector{
		HeartRate: 0.5, BreathingRhythm: 0.5, MovementIntensity: 0.5, AttentionLevel: 0.5,
	}})

	p.SetPhaseOverride(attention.Phase{Name: attention.Stress, Intensity: 0.8})
	assert.InDelta(t, 0.7, p.Biometrics().HeartRate, 1e-12)

	p.SetPhaseOverride(attention.Phase{Name: attention.Stress, Intensity: 0.9})
	assert.InDelta(t, 0.7, p.Biometrics().HeartRate, 1e-12, "same phase name is not a transition")

	p.SetPhaseOverride(attention.Phase{Name: attention.Calm, Intensity: 0.6})
	assert.InDelta(t, 0.6, p.Biometrics().HeartRate, 1e-12)

	assert.Equal(t, 2, p.Stats().PhaseTransitions)
}

func TestNudgeSaturates(t *testing.T) {
	p := newPipeline(t, Options{Initial: biometrics.Vector{
		HeartRate: 0.95, BreathingRhythm: 0.5, MovementIntensity: 0.5, AttentionLevel: 0.5,
	}})
	p.SetPhaseOverride(attention.Phase{Name: attention.Stress, Intensity: 0.8})
	assert.Equal(t, biometrics.Ceiling, p.Biometrics().HeartRate)
}

func TestOverrideSuspendsClassification(t *testing.T) {
	p := newPipeline(t, Options{})
	p.SetMetrics(attention.Metrics{HeartRateVariability: 85, TypingRhythm: 0.5, ScrollVelocity: 0.9, Dwell: time.Second})

	p.SetPhaseOverride(attention.Phase{Name: attention.Flow, Intensity: 2})
	assert.Equal(t, 1.0, p.Phase().Intensity, "override intensity is clamped")
	assert.True(t, p.Overridden())

	p.Classify(epoch.Add(3 * time.Second))
	assert.Equal(t, attention.Flow, p.Phase().Name)

	p.ClearPhaseOverride()
	p.Classify(epoch.Add(6 * time.Second))
	assert.Equal(t, attention.Stress, p.Phase().Name)
	assert.Equal(t, 0.8, p.Phase().Intensity)
}

func TestLateClassificationDoesNotReplaceOverride(t *testing.T) {
	p := newPipeline(t, Options{})
	// A classification evaluated before the override arrives is applied after it.
	classified := attention.Phase{Name: attention.Stress, Intensity: 0.8, Since: epoch}

	p.SetPhaseOverride(attention.Phase{Name: attention.Flow, Intensity: 0.9})
	p.applyPhase(epoch, classified, sourceClassifier)

	assert.Equal(t, attention.Flow, p.Phase().Name)
	assert.True(t, p.Overridden())
	assert.Equal(t, 1, p.Stats().PhaseTransitions)
}

func TestConcurrentClassifyAndOverride(t *testing.T) {
	p := newPipeline(t, Options{})
	p.SetMetrics(attention.Metrics{HeartRateVariability: 85, TypingRhythm: 0.5, ScrollVelocity: 0.9, Dwell: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Classify(epoch.Add(3 * time.Second))
		}()
		go func() {
			defer wg.Done()
			p.SetPhaseOverride(attention.Phase{Name: attention.Calm, Intensity: 0.6})
		}()
		wg.Wait()
		require.Equal(t, attention.Calm, p.Phase().Name, "round %d", i)
		p.ClearPhaseOverride()
	}
}

func TestHarmonicsFollowPhase(t *testing.T) {
	p := newPipeline(t, Options{})
	hasPhasePartial := func() bool {
		for _, h := range p.Harmonics() {
			if h.Source == harmonic.SourcePhase {
				return true
			}
		}
		return false
	}

	assert.False(t, hasPhasePartial())
	p.SetPhaseOverride(attention.Phase{Name: attention.Flow, Intensity: 0.9})
	assert.True(t, hasPhasePartial())
	p.SetPhaseOverride(attention.Phase{Name: attention.Distracted, Intensity: 0.4})
	assert.False(t, hasPhasePartial())
}

func TestCrystalFormsWhenSignificant(t *testing.T) {
	p := newPipeline(t, Options{Rand: entropy.NewScripted(0.9)})
	p.OverrideBiometrics(biometrics.Vector{HeartRate: 0.5, BreathingRhythm: 0.5, MovementIntensity: 0.5, AttentionLevel: 0.9})
	p.SetPhaseOverride(attention.Phase{Name: attention.Flow, Intensity: 0.9})
	p.DrainEvents()

	p.EvaluateCrystal(epoch.Add(5 * time.Second))

	cs := p.Crystals()
	require.Len(t, cs, 1)
	assert.Equal(t, attention.Flow, cs[0].Phase.Name)
	assert.InDelta(t, 0.9, cs[0].Significance, 1e-12)

	events := p.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, CategoryCrystal, events[0].Category)
	assert.Contains(t, events[0].Payload, cs[0].ID)

	p.SelectCrystal(cs[0].ID)
	detail, ok := p.SelectedCrystal()
	require.True(t, ok)
	assert.Equal(t, "flow state", detail.Title)
	assert.Equal(t, 90, detail.Attention)
}

func TestCrystalGateRejectsCommonMoments(t *testing.T) {
	p := newPipeline(t, Options{})
	p.OverrideBiometrics(biometrics.Vector{HeartRate: 0.5, BreathingRhythm: 0.5, MovementIntensity: 0.5, AttentionLevel: 0.2})
	for i := 0; i < 20; i++ {
		p.EvaluateCrystal(epoch)
	}
	assert.Empty(t, p.Crystals())
}

func TestEngineDrivesPipeline(t *testing.T) {
	p := newPipeline(t, Options{Rand: entropy.NewSeeded(42)})
	e := NewEngine(epoch)
	p.Attach(e, DefaultTiming())

	assert.Equal(t, 1.0, p.Poetry().Opacity, "first fragment shows at attach")

	e.AdvanceBy(30 * time.Second)

	assert.Equal(t, uint64(600), e.Fired("breath"))
	assert.Equal(t, uint64(10), e.Fired("biometrics"))
	assert.Equal(t, uint64(10), e.Fired("classify"))
	assert.Equal(t, uint64(15), e.Fired("metrics"))
	assert.Equal(t, uint64(6), e.Fired("moment"))
	assert.GreaterOrEqual(t, e.Fired("crystal"), uint64(2))
	assert.GreaterOrEqual(t, e.Fired("poetry"), uint64(2))

	assert.Len(t, p.Moments(), 6)
	assert.Greater(t, p.Sync().Resonance, 0.0)
	assert.Equal(t, int(e.Fired("poetry"))+1, p.Stats().FragmentsShown)

	snap := p.Snapshot()
	assert.Equal(t, e.Tick(), snap.Tick)
	assert.Equal(t, epoch.Add(30*time.Second), snap.At)
	assert.Len(t, snap.Moments, 6)
}

func TestPoetryFadesOnLogicalTime(t *testing.T) {
	p := newPipeline(t, Options{})
	e := NewEngine(epoch)
	p.Attach(e, DefaultTiming())
	require.NotEmpty(t, p.Poetry().Text)

	// Attention 0.7 shows for 4.4s, the next fragment is at least 8s away.
	e.AdvanceBy(5 * time.Second)
	assert.Equal(t, 0.0, p.Poetry().Opacity)
}

func TestEventsAreBounded(t *testing.T) {
	p := newPipeline(t, Options{})
	p.DrainEvents()
	for i := 0; i < MaxEvents+5; i++ {
		p.ShowPoetry(epoch)
	}

	events := p.DrainEvents()
	assert.Len(t, events, MaxEvents)
	assert.Equal(t, 5, p.Stats().DroppedEvents)
	assert.Empty(t, p.DrainEvents())
}

func TestPointerSampleAndReset(t *testing.T) {
	p := newPipeline(t, Options{})
	tex := p.PointerSample(texture.Point{X: 0, Y: 100}, 100)
	assert.Equal(t, tex, p.Texture())
	assert.Greater(t, tex.EmotionalWeight, texture.Neutral.EmotionalWeight)

	assert.Equal(t, texture.Neutral, p.ResetTexture())
	assert.Equal(t, texture.Neutral, p.Texture())
}

func TestHarmonicsReturnsCopy(t *testing.T) {
	p := newPipeline(t, Options{})
	h := p.Harmonics()
	h[0].Frequency = -1
	assert.NotEqual(t, -1.0, p.Harmonics()[0].Frequency)
}

func TestUnknownEnvironment(t *testing.T) {
	_, err := NewPipeline(Options{Rand: still(), Start: epoch, Environment: "lunar"})
	require.ErrorIs(t, err, ambient.ErrUnknownEnvironment)

	p := newPipeline(t, Options{})
	require.ErrorIs(t, p.SetEnvironment("lunar"), ambient.ErrUnknownEnvironment)
	require.NoError(t, p.SetEnvironment("ember"))
	assert.Equal(t, "ember", p.Ambient().Environment)
}

func TestAudioFailureLeavesPipelineRunning(t *testing.T) {
	p := newPipeline(t, Options{Audio: audio.Unavailable})
	require.ErrorIs(t, p.EnableAudio(), audio.ErrNoDevice)
	assert.False(t, p.AudioEnabled())

	e := NewEngine(epoch)
	p.Attach(e, DefaultTiming())
	assert.NotPanics(t, func() { e.AdvanceBy(10 * time.Second) })
	assert.NotEmpty(t, p.Harmonics())
}

func TestAudioTracksHarmonics(t *testing.T) {
	dev := audio.NewLogDevice(nil)
	p := newPipeline(t, Options{Audio: audio.LogOpener(dev)})
	require.NoError(t, p.EnableAudio())
	assert.Equal(t, len(p.Harmonics()), dev.Live())

	p.SetPhaseOverride(attention.Phase{Name: attention.Stress, Intensity: 0.8})
	assert.Equal(t, len(p.Harmonics()), dev.Live())

	p.Close()
	assert.Equal(t, 0, dev.Live())
	assert.True(t, dev.Closed())
}

func TestSubscribeReceivesEvents(t *testing.T) {
	p := newPipeline(t, Options{})
	id, ch := p.Subscribe()

	p.SetPhaseOverride(attention.Phase{Name: attention.Flow, Intensity: 0.9})
	ev := <-ch
	assert.Equal(t, CategoryPhase, ev.Category)
	assert.Equal(t, "calm → flow", ev.Description)

	p.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	p.Unsubscribe(id)

	assert.NotPanics(t, func() { p.ShowPoetry(epoch) })
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	p := newPipeline(t, Options{})
	_, ch := p.Subscribe()
	for i := 0; i < subscriberBuffer*2; i++ {
		p.ShowPoetry(epoch)
	}
	assert.Len(t, ch, subscriberBuffer)
}
