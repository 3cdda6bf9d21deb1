package voicecall

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig tunes playback scheduling and the derived AI-speaking
// signal.
type SchedulerConfig struct {
	// WireRate is the sample rate of inbound PCM16 frames.
	WireRate int
	// MinLookAhead is the minimum scheduling distance ahead of the sink
	// clock, in seconds. Keeps a jitter cushion so frames never underrun.
	MinLookAhead float64
	// MaxLookAhead caps the scheduling horizon, in seconds. Frames arriving
	// while the backlog exceeds it are dropped rather than queued forever.
	MaxLookAhead float64
	// EnergyThreshold is the mean-abs level above which a frame counts as
	// audible assistant speech.
	EnergyThreshold float64
	// SpeechHoldOff is how long output must stay quiet after the queue
	// drains before the speaking signal clears.
	SpeechHoldOff time.Duration
	// LevelInterval paces the loudness sampling loop.
	LevelInterval time.Duration
	// LevelDecay is the per-tick multiplier applied to the smoothed level
	// when no new frame energy is available.
	LevelDecay float64
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WireRate:        16_000,
		MinLookAhead:    0.05,
		MaxLookAhead:    0.8,
		EnergyThreshold: 0.01,
		SpeechHoldOff:   450 * time.Millisecond,
		LevelInterval:   16 * time.Millisecond,
		LevelDecay:      0.85,
	}
}

// Scheduler plays inbound PCM16 frames gaplessly against the sink clock, in
// strict arrival order with monotonically non-decreasing start times, and
// derives an assistant-is-speaking signal from output energy.
type Scheduler struct {
	cfg     SchedulerConfig
	sink    OutputSink
	logger  *slog.Logger
	now     func() time.Time
	onStart func()
	onEnd   func()

	mu        sync.Mutex
	nextStart float64 // end of the last scheduled frame, sink clock seconds
	scheduled bool
	speaking  bool
	lastLoud  time.Time
	level     float64
	dropped   int
	done      chan struct{}
}

func NewScheduler(cfg SchedulerConfig, sink OutputSink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "playback")),
		now:    time.Now,
	}
}

// OnSpeechStart registers the assistant-speech-started callback.
func (s *Scheduler) OnSpeechStart(f func()) { s.onStart = f }

// OnSpeechEnd registers the assistant-speech-ended callback.
func (s *Scheduler) OnSpeechEnd(f func()) { s.onEnd = f }

// Start launches the level-sampling loop, which also watches for the end of
// speech once the queue has drained. Must be paired with Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	done := make(chan struct{})
	s.done = done

	go func() {
		t := time.NewTicker(s.cfg.LevelInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				s.tick()
			}
		}
	}()
}

// Push schedules one inbound PCM16 frame. Frames are processed in arrival
// order; a frame that would push the backlog past MaxLookAhead is dropped.
func (s *Scheduler) Push(frame []byte) {
	if len(frame) < 2 {
		return
	}
	if s.sink.SampleRate() != s.cfg.WireRate {
		converted, err := resamplePCM(frame, s.cfg.WireRate, s.sink.SampleRate())
		if err != nil {
			s.logger.Error("playback resample failed", slog.Any("err", err))
			return
		}
		frame = converted
	}

	buf := pcm16ToFloat(frame)
	energy := meanAbs(buf)
	dur := float64(len(buf)) / float64(s.sink.SampleRate())
	now := s.sink.Now()

	var started bool
	s.mu.Lock()
	if energy > s.cfg.EnergyThreshold {
		s.lastLoud = s.now()
		s.level = clamp01(energy * 4)
		if !s.speaking {
			s.speaking = true
			started = true
		}
	}

	start := now + s.cfg.MinLookAhead
	if s.scheduled && s.nextStart > start {
		start = s.nextStart
	}
	if s.scheduled && s.nextStart-now > s.cfg.MaxLookAhead {
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.logger.Warn("playback backlog over horizon, dropping frame",
			slog.Int("dropped", n))
		if started && s.onStart != nil {
			s.onStart()
		}
		return
	}
	s.sink.PlayAt(buf, start)
	s.nextStart = start + dur
	s.scheduled = true
	s.mu.Unlock()

	if started && s.onStart != nil {
		s.onStart()
	}
}

// tick runs on every level interval: it decays the smoothed loudness between
// frames and clears the speaking signal once the sink clock has caught up
// with the last scheduled end and output has been quiet past the hold-off.
func (s *Scheduler) tick() {
	const endMargin = 0.05

	var ended bool
	s.mu.Lock()
	if s.now().Sub(s.lastLoud) > s.cfg.LevelInterval {
		s.level *= s.cfg.LevelDecay
		if s.level < 0.001 {
			s.level = 0
		}
	}
	if s.speaking &&
		s.sink.Now() >= s.nextStart-endMargin &&
		s.now().Sub(s.lastLoud) >= s.cfg.SpeechHoldOff {
		s.speaking = false
		ended = true
	}
	s.mu.Unlock()

	if ended {
		s.logger.Debug("assistant speech ended")
		if s.onEnd != nil {
			s.onEnd()
		}
	}
}

// Speaking reports whether assistant speech is currently audible. Used by
// the VAD suspend probe and the status tracker guard.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Level returns the smoothed 0-1 output loudness for presentational
// feedback.
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Dropped returns how many frames were discarded at the backlog cap.
func (s *Scheduler) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop halts the level loop and zeroes scheduling state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.speaking = false
	s.scheduled = false
	s.nextStart = 0
	s.level = 0
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
