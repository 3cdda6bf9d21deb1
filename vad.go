package voicecall

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// DetectorConfig tunes the energy VAD.
type DetectorConfig struct {
	// SpeechThreshold is the RMS level (normalized samples) above which a
	// block counts as voice energy.
	SpeechThreshold float64
	// MinSpeechDuration is the debounce window a burst must survive before
	// speech-start is confirmed. Suppresses single-frame transients.
	MinSpeechDuration time.Duration
	// SpeakingDecay is how long without qualifying energy before the
	// speaking state clears.
	SpeakingDecay time.Duration
	// SweepInterval is how often the decay sweep runs.
	SweepInterval time.Duration
}

func defaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SpeechThreshold:   0.018,
		MinSpeechDuration: 100 * time.Millisecond,
		SpeakingDecay:     800 * time.Millisecond,
		SweepInterval:     50 * time.Millisecond,
	}
}

// Detector classifies outbound PCM16 blocks as speech or silence from RMS
// energy, with a confirmation debounce on the way in and a decay sweep on
// the way out. Evaluation is suspended entirely while the playback side
// reports the assistant speaking, so leakage from the speakers cannot
// self-trigger it.
type Detector struct {
	cfg     DetectorConfig
	logger  *slog.Logger
	now     func() time.Time
	suspend func() bool
	onStart func()
	onEnd   func()

	mu          sync.Mutex
	speaking    bool
	tentativeAt time.Time
	lastSpeech  time.Time
	debounce    *time.Timer
	sweepDone   chan struct{}
}

func NewDetector(cfg DetectorConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "vad")),
		now:    time.Now,
	}
}

// OnSpeechStart registers the confirmed speech-start callback.
func (d *Detector) OnSpeechStart(f func()) { d.onStart = f }

// OnSpeechEnd registers the speech-ended callback.
func (d *Detector) OnSpeechEnd(f func()) { d.onEnd = f }

// SuspendWhen registers a probe checked before every block; while it reports
// true the detector ignores input.
func (d *Detector) SuspendWhen(f func() bool) { d.suspend = f }

// Start launches the periodic decay sweep. Must be paired with Reset.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sweepDone != nil {
		return
	}
	done := make(chan struct{})
	d.sweepDone = done

	go func() {
		t := time.NewTicker(d.cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				d.sweep()
			}
		}
	}()
}

// Process evaluates one outbound PCM16 block. Blocks arrive in capture
// order; processing is synchronous and cheap.
func (d *Detector) Process(block []byte) {
	if d.suspend != nil && d.suspend() {
		return
	}
	rms := rmsPCM16(block)
	if rms <= d.cfg.SpeechThreshold {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSpeech = d.now()
	if !d.speaking && d.debounce == nil {
		d.tentativeAt = d.lastSpeech
		d.debounce = time.AfterFunc(d.cfg.MinSpeechDuration, d.confirm)
	}
}

// confirm runs MinSpeechDuration after the first loud block of a burst and
// promotes it to confirmed speech only if energy kept arriving.
func (d *Detector) confirm() {
	d.mu.Lock()
	d.debounce = nil
	now := d.now()
	stillActive := now.Sub(d.lastSpeech) < d.cfg.MinSpeechDuration
	longEnough := now.Sub(d.tentativeAt) >= d.cfg.MinSpeechDuration
	fire := !d.speaking && stillActive && longEnough
	if fire {
		d.speaking = true
	}
	d.mu.Unlock()

	if fire {
		d.logger.Debug("speech started")
		if d.onStart != nil {
			d.onStart()
		}
	}
}

func (d *Detector) sweep() {
	d.mu.Lock()
	fire := d.speaking && d.now().Sub(d.lastSpeech) >= d.cfg.SpeakingDecay
	if fire {
		d.speaking = false
	}
	d.mu.Unlock()

	if fire {
		d.logger.Debug("speech ended")
		if d.onEnd != nil {
			d.onEnd()
		}
	}
}

// Speaking reports the current confirmed state.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset stops the sweep, cancels any pending debounce and zeroes all state.
// Safe to call repeatedly; called on both call start and teardown so stale
// timers can never fire into a dead session.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sweepDone != nil {
		close(d.sweepDone)
		d.sweepDone = nil
	}
	if d.debounce != nil {
		d.debounce.Stop()
		d.debounce = nil
	}
	d.speaking = false
	d.tentativeAt = time.Time{}
	d.lastSpeech = time.Time{}
}
