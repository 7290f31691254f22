package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// LogDevice is a headless device that traces oscillator activity to slog at
// debug level. It also counts live voices, which tests rely on.
type LogDevice struct {
	logger *slog.Logger

	mu     sync.Mutex
	master float64
	live   int
	closed bool
}

// NewLogDevice creates a tracing device. A nil logger uses slog.Default().
func NewLogDevice(logger *slog.Logger) *LogDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDevice{logger: logger}
}

// LogOpener returns an Opener that hands out d.
func LogOpener(d *LogDevice) Opener {
	return func() (Device, error) { return d, nil }
}

// SetMasterGain records the bus gain.
func (d *LogDevice) SetMasterGain(gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.master = gain
	return nil
}

// Start begins a traced oscillator.
func (d *LogDevice) Start(wave Waveform, frequency, gain float64) (Oscillator, error) {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	d.logger.Debug("oscillator start", "wave", wave, "hz", frequency, "gain", gain)
	return &logVoice{dev: d}, nil
}

// Close marks the device released.
func (d *LogDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.logger.Debug("audio device closed", "live", d.live)
	return nil
}

// Live returns the number of oscillators started and not yet stopped.
func (d *LogDevice) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Closed reports whether Close has been called.
func (d *LogDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// MasterGain returns the last bus gain.
func (d *LogDevice) MasterGain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.master
}

type logVoice struct {
	dev     *LogDevice
	stopped atomic.Bool
}

func (v *logVoice) Stop() error {
	if v.stopped.Swap(true) {
		return nil
	}
	v.dev.mu.Lock()
	v.dev.live--
	v.dev.mu.Unlock()
	return nil
}
