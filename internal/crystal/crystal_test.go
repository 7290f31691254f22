package crystal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/entropy"
)

var (
	t0      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	focused = biometrics.Vector{HeartRate: 0.5, BreathingRhythm: 0.5, MovementIntensity: 0.2, AttentionLevel: 0.7}
	flow    = attention.Phase{Name: attention.Flow, Intensity: 0.9, Since: t0}
)

func TestEvaluateCreatesWhenBothGatesPass(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewScripted(0.9, 0.5, 0.25))
	c, ok := s.Evaluate(t0, focused, flow)
	require.True(t, ok)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, t0, c.CreatedAt)
	assert.Equal(t, focused, c.Biometrics)
	assert.Equal(t, flow, c.Phase)
	assert.InDelta(t, 0.8, c.Significance, 1e-12)
	assert.Equal(t, c.Significance, c.Resonance)
	assert.InDelta(t, 50, c.Position.X, 1e-9)
	assert.InDelta(t, 35, c.Position.Y, 1e-9)
	assert.Equal(t, 280.0, c.Hue)
	assert.Equal(t, 1, s.Len())
}

func TestEvaluateRejectsLowSignificance(t *testing.T) {
	src := entropy.NewScripted(0.99)
	s := NewSystem(DefaultConfig(), src)

	calm := attention.Phase{Name: attention.Calm, Intensity: 0.5}
	v := focused
	v.AttentionLevel = 0.7 // (0.5+0.7)/2 = 0.6, not above the threshold
	_, ok := s.Evaluate(t0, v, calm)
	assert.False(t, ok)
	assert.Equal(t, 0, src.Draws(), "no random draw below the threshold")
}

func TestEvaluateRejectsLosingDraw(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewScripted(0.7))
	_, ok := s.Evaluate(t0, focused, flow)
	assert.False(t, ok, "a draw of exactly 0.7 does not pass")
	assert.Equal(t, 0, s.Len())
}

func TestHueByPhase(t *testing.T) {
	cases := []struct {
		name attention.Name
		lo   float64
		hi   float64
	}{
		{attention.Stress, 0, 0},
		{attention.Calm, 190, 190},
		{attention.Flow, 280, 280},
		{attention.Distracted, 195, 235},
	}
	for _, tc := range cases {
		t.Run(string(tc.name), func(t *testing.T) {
			s := NewSystem(DefaultConfig(), entropy.NewScripted(0.9, 0.5, 0.5, 0.5))
			c, ok := s.Evaluate(t0, biometrics.Vector{AttentionLevel: 1}, attention.Phase{Name: tc.name, Intensity: 0.9})
			require.True(t, ok)
			assert.GreaterOrEqual(t, c.Hue, tc.lo)
			assert.LessOrEqual(t, c.Hue, tc.hi)
		})
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewScripted(0.9, 0.5, 0.5))
	var created []Crystal
	for i := 0; i < 13; i++ {
		c, ok := s.Evaluate(t0.Add(time.Duration(i)*time.Second), focused, flow)
		require.True(t, ok)
		created = append(created, c)
		require.LessOrEqual(t, s.Len(), DefaultCapacity)
	}

	got := s.Crystals()
	require.Len(t, got, 12)
	for _, c := range got {
		assert.NotEqual(t, created[0].ID, c.ID, "first crystal should be evicted")
	}
	assert.Equal(t, created[1].ID, got[0].ID, "oldest first")
	assert.Equal(t, created[12].ID, got[11].ID, "13th crystal present")
}

func TestCrystalsReturnsCopy(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewScripted(0.9, 0.5, 0.5))
	_, ok := s.Evaluate(t0, focused, flow)
	require.True(t, ok)

	got := s.Crystals()
	got[0].Hue = -1
	assert.Equal(t, 280.0, s.Crystals()[0].Hue)
}

func TestSelectToggles(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewScripted(0.9, 0.5, 0.5))
	c, _ := s.Evaluate(t0, focused, flow)
	before := s.Crystals()

	assert.Equal(t, c.ID, s.Select(c.ID))
	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, c.ID, sel.ID)

	assert.Equal(t, "", s.Select(c.ID), "re-selecting deselects")
	_, ok = s.Selected()
	assert.False(t, ok)
	assert.Equal(t, before, s.Crystals(), "selection never touches the collection")
}

func TestSelectionClearedOnEviction(t *testing.T) {
	s := NewSystem(Config{Capacity: 1, Threshold: 0.6, Acceptance: 0.7}, entropy.NewScripted(0.9, 0.5, 0.5))
	first, _ := s.Evaluate(t0, focused, flow)
	s.Select(first.ID)
	s.Evaluate(t0.Add(time.Second), focused, flow)

	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestOpacityFade(t *testing.T) {
	c := Crystal{CreatedAt: t0}
	assert.Equal(t, 1.0, Opacity(c, t0))
	assert.InDelta(t, 0.5, Opacity(c, t0.Add(150*time.Second)), 1e-12)
	assert.Equal(t, MinOpacity, Opacity(c, t0.Add(10*time.Minute)))
	assert.Equal(t, 1.0, Opacity(c, t0.Add(-time.Second)), "future timestamps clamp to age zero")
}

func TestNextIntervalWindow(t *testing.T) {
	s := NewSystem(DefaultConfig(), entropy.NewSeeded(9))
	for i := 0; i < 500; i++ {
		d := s.NextInterval()
		require.GreaterOrEqual(t, d, MinInterval)
		require.Less(t, d, MaxInterval)
	}
}

func TestDescribe(t *testing.T) {
	c := Crystal{
		CreatedAt:    t0,
		Biometrics:   focused,
		Phase:        flow,
		Significance: 0.8,
	}
	d := Describe(c, t0.Add(90*time.Second))
	assert.Equal(t, "flow state", d.Title)
	assert.Equal(t, "1 minute ago", d.Captured)
	assert.Equal(t, 80, d.Intensity)
	assert.Equal(t, 50, d.Heart)
	assert.Equal(t, 70, d.Attention)
	assert.InDelta(t, 0.7, d.Opacity, 1e-12)
}
