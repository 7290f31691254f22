// Package biometrics provides the synthetic biometric signal vector that roots
// every derivation, and the random-walk simulator that evolves it.
package biometrics

import (
	"golang.org/x/exp/constraints"
)

// Signal bounds. Movement may reach zero; the others never drop below 0.1.
const (
	Floor         = 0.1
	MovementFloor = 0.0
	Ceiling       = 1.0
)

// Vector is one reading of the four synthetic signals.
type Vector struct {
	HeartRate         float64 `json:"heart_rate"`
	BreathingRhythm   float64 `json:"breathing_rhythm"`
	MovementIntensity float64 `json:"movement_intensity"`
	AttentionLevel    float64 `json:"attention_level"`
}

// DefaultVector is the resting state the simulator starts from.
func DefaultVector() Vector {
	return Vector{
		HeartRate:         0.6,
		BreathingRhythm:   0.5,
		MovementIntensity: 0.4,
		AttentionLevel:    0.7,
	}
}

// Clamped returns v with every field forced into its valid range.
func (v Vector) Clamped() Vector {
	return Vector{
		HeartRate:         Clamp(v.HeartRate, Floor, Ceiling),
		BreathingRhythm:   Clamp(v.BreathingRhythm, Floor, Ceiling),
		MovementIntensity: Clamp(v.MovementIntensity, MovementFloor, Ceiling),
		AttentionLevel:    Clamp(v.AttentionLevel, Floor, Ceiling),
	}
}

// Harmony is the mean of heart rate, breathing and attention.
func (v Vector) Harmony() float64 {
	return (v.HeartRate + v.BreathingRhythm + v.AttentionLevel) / 3
}

// Clamp bounds v to [lo, hi]. NaN collapses to lo.
func Clamp[T constraints.Float](v, lo, hi T) T {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
