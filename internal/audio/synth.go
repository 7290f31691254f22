// Package audio is the optional sound side channel for harmonic partials.
// The device is acquired lazily on Enable and every failure stays local:
// the synth logs it and goes quiet, it never reaches the derivation.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/interval/internal/harmonic"
)

// ErrNoDevice is returned by openers that have no output available.
var ErrNoDevice = errors.New("audio: no output device")

// Waveform selects an oscillator shape.
type Waveform string

const (
	Sine     Waveform = "sine"
	Triangle Waveform = "triangle"
)

// Gains applied to each partial and to the master bus.
const (
	PartialGain = 0.1
	MasterGain  = 0.1
)

// Oscillator is one running voice on a device.
type Oscillator interface {
	Stop() error
}

// Device is an acquired audio output.
type Device interface {
	SetMasterGain(gain float64) error
	Start(wave Waveform, frequency, gain float64) (Oscillator, error)
	Close() error
}

// Opener acquires a device.
type Opener func() (Device, error)

// Unavailable is an Opener for hosts without audio output.
func Unavailable() (Device, error) {
	return nil, ErrNoDevice
}

// Synth mirrors the latest partial set onto a device, one oscillator each.
type Synth struct {
	open Opener

	mu      sync.Mutex
	dev     Device
	voices  []Oscillator
	enabled bool
}

// NewSynth creates a disabled synth. Nothing is acquired until Enable.
func NewSynth(open Opener) *Synth {
	if open == nil {
		open = Unavailable
	}
	return &Synth{open: open}
}

// Enable acquires the device. A failure is logged, leaves the synth disabled
// and is returned for the caller's information only.
func (s *Synth) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return nil
	}

	dev, err := s.acquire()
	if err != nil {
		slog.Warn("audio unavailable, continuing without sound", "error", err)
		return err
	}
	s.dev = dev
	s.enabled = true
	slog.Info("audio synthesizer ready")
	return nil
}

func (s *Synth) acquire() (dev Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev, err = nil, fmt.Errorf("audio: device panic: %v", r)
		}
	}()

	dev, err = s.open()
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	if dev == nil {
		return nil, ErrNoDevice
	}
	if err := dev.SetMasterGain(MasterGain); err != nil {
		dev.Close()
		return nil, fmt.Errorf("set master gain: %w", err)
	}
	return dev, nil
}

// Enabled reports whether a device is held.
func (s *Synth) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Voices returns the number of running oscillators.
func (s *Synth) Voices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Render replaces every running oscillator with one per partial. The first
// partial plays as a sine, the rest as triangles. A no-op while disabled.
func (s *Synth) Render(partials []harmonic.Partial) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	s.stopVoices()

	for i, p := range partials {
		wave := Triangle
		if i == 0 {
			wave = Sine
		}
		osc, err := s.dev.Start(wave, p.Frequency, p.Amplitude*PartialGain)
		if err != nil {
			slog.Warn("audio oscillator failed, disabling audio", "partial", i, "error", err)
			s.release()
			return
		}
		s.voices = append(s.voices, osc)
	}
}

// Close stops every oscillator and releases the device. Safe to call twice.
func (s *Synth) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Synth) stopVoices() {
	for _, v := range s.voices {
		if err := v.Stop(); err != nil {
			slog.Debug("audio oscillator stop failed", "error", err)
		}
	}
	s.voices = nil
}

func (s *Synth) release() {
	s.stopVoices()
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			slog.Debug("audio device close failed", "error", err)
		}
	}
	s.dev = nil
	s.enabled = false
}
