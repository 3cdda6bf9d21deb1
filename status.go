package voicecall

import (
	"sync"
	"time"
)

// Status is the presentation state shown while a call is live. It is derived
// from VAD and playback signals plus explicit processing toggles from the
// host UI; it carries no business meaning of its own.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusListening    Status = "listening"
	StatusUserSpeaking Status = "userSpeaking"
	StatusAISpeaking   Status = "aiSpeaking"
	StatusIdle         Status = "idle"
	StatusProcessing   Status = "processing"
)

// StatusConfig tunes the idle timeout and reminder cadence.
type StatusConfig struct {
	// IdleAfter is how long listening may sit without activity before the
	// tracker drops to idle. Zero disables idle detection.
	IdleAfter time.Duration
	// RemindEvery re-fires the reminder callback while idle.
	RemindEvery time.Duration
	// TickInterval paces the idle check loop.
	TickInterval time.Duration
}

func defaultStatusConfig() StatusConfig {
	return StatusConfig{
		IdleAfter:    30 * time.Second,
		RemindEvery:  30 * time.Second,
		TickInterval: time.Second,
	}
}

// StatusTracker is a small presentation state machine. The only transition
// guard with teeth: listening is suppressed while the playback side still
// reports audible assistant speech, so the indicator cannot flicker on
// inter-word gaps.
type StatusTracker struct {
	cfg      StatusConfig
	aiActive func() bool

	onChange   func(Status)
	onReminder func()

	mu           sync.Mutex
	state        Status
	processing   bool
	lastActivity time.Time
	lastRemind   time.Time
	done         chan struct{}
}

func NewStatusTracker(cfg StatusConfig, aiActive func() bool) *StatusTracker {
	return &StatusTracker{
		cfg:      cfg,
		aiActive: aiActive,
		state:    StatusConnecting,
	}
}

func (t *StatusTracker) OnChange(f func(Status)) { t.onChange = f }
func (t *StatusTracker) OnReminder(f func())     { t.onReminder = f }

// Start begins idle tracking. Must be paired with Stop.
func (t *StatusTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil || t.cfg.IdleAfter == 0 {
		return
	}
	t.lastActivity = time.Now()
	done := make(chan struct{})
	t.done = done

	go func() {
		tick := time.NewTicker(t.cfg.TickInterval)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				t.checkIdle()
			}
		}
	}()
}

func (t *StatusTracker) checkIdle() {
	now := time.Now()
	var change bool
	var remind bool

	t.mu.Lock()
	switch t.state {
	case StatusListening:
		if now.Sub(t.lastActivity) >= t.cfg.IdleAfter {
			t.state = StatusIdle
			t.lastRemind = now
			change = true
			remind = true
		}
	case StatusIdle:
		if now.Sub(t.lastRemind) >= t.cfg.RemindEvery {
			t.lastRemind = now
			remind = true
		}
	}
	t.mu.Unlock()

	if change && t.onChange != nil {
		t.onChange(StatusIdle)
	}
	if remind && t.onReminder != nil {
		t.onReminder()
	}
}

func (t *StatusTracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *StatusTracker) set(s Status) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.lastActivity = time.Now()
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(s)
	}
}

// Connecting marks call setup in progress.
func (t *StatusTracker) Connecting() { t.set(StatusConnecting) }

// Active marks the call established; resolves to listening unless the
// assistant is audibly speaking.
func (t *StatusTracker) Active() { t.toListening() }

// UserSpeechStarted is driven by confirmed VAD speech-start.
func (t *StatusTracker) UserSpeechStarted() {
	t.mu.Lock()
	blocked := t.processing
	t.mu.Unlock()
	if blocked {
		return
	}
	t.set(StatusUserSpeaking)
}

// UserSpeechEnded is driven by VAD decay.
func (t *StatusTracker) UserSpeechEnded() { t.toListening() }

// AISpeechStarted is driven by the playback energy gate.
func (t *StatusTracker) AISpeechStarted() { t.set(StatusAISpeaking) }

// AISpeechEnded is driven by the playback hold-off.
func (t *StatusTracker) AISpeechEnded() { t.toListening() }

// SetProcessing is toggled by the host UI around its own slow work.
func (t *StatusTracker) SetProcessing(on bool) {
	t.mu.Lock()
	t.processing = on
	t.mu.Unlock()
	if on {
		t.set(StatusProcessing)
	} else {
		t.toListening()
	}
}

// toListening returns to listening unless suppressed by processing or by
// still-audible assistant speech.
func (t *StatusTracker) toListening() {
	t.mu.Lock()
	if t.processing {
		t.mu.Unlock()
		return
	}
	suppressed := t.state == StatusAISpeaking && t.aiActive != nil && t.aiActive()
	t.mu.Unlock()
	if suppressed {
		return
	}
	t.set(StatusListening)
}

// Stop cancels the idle loop.
func (t *StatusTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}
