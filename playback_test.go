package voicecall

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type play struct {
	start float64
	dur   float64
}

// fakeSink records scheduled plays against a manually advanced clock.
type fakeSink struct {
	mu    sync.Mutex
	now   float64
	rate  int
	plays []play
}

func newFakeSink(rate int) *fakeSink { return &fakeSink{rate: rate} }

func (f *fakeSink) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) SampleRate() int { return f.rate }

func (f *fakeSink) PlayAt(buf []float32, start float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, play{start: start, dur: float64(len(buf)) / float64(f.rate)})
}

func (f *fakeSink) advance(d float64) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

func (f *fakeSink) scheduled() []play {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]play, len(f.plays))
	copy(out, f.plays)
	return out
}

// pcmFrame builds n samples of constant amplitude.
func pcmFrame(amplitude int16, n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amplitude))
	}
	return b
}

func TestSchedulerBackToBackStarts(t *testing.T) {
	sink := newFakeSink(16_000)
	cfg := defaultSchedulerConfig()
	s := NewScheduler(cfg, sink, nil)

	frame := pcmFrame(1000, 1600) // 100ms
	s.Push(frame)
	s.Push(frame)
	s.Push(frame)

	plays := sink.scheduled()
	require.Len(t, plays, 3)

	// first frame sits exactly one look-ahead out
	assert.InDelta(t, cfg.MinLookAhead, plays[0].start, 1e-9)

	for i := 1; i < len(plays); i++ {
		assert.GreaterOrEqual(t, plays[i].start, plays[i-1].start)
		// gapless: each start equals the previous end
		assert.InDelta(t, plays[i-1].start+plays[i-1].dur, plays[i].start, 1e-9)
		gap := plays[i].start - (plays[i-1].start + plays[i-1].dur)
		assert.LessOrEqual(t, gap, cfg.MinLookAhead)
	}
}

func TestSchedulerDropsBeyondHorizon(t *testing.T) {
	sink := newFakeSink(16_000)
	cfg := defaultSchedulerConfig()
	cfg.MaxLookAhead = 0.3
	s := NewScheduler(cfg, sink, nil)

	frame := pcmFrame(1000, 1600) // 100ms each, clock never advances
	for i := 0; i < 10; i++ {
		s.Push(frame)
	}

	plays := sink.scheduled()
	assert.Less(t, len(plays), 10)
	assert.Greater(t, s.Dropped(), 0)

	// the horizon never drifted past the cap
	last := plays[len(plays)-1]
	assert.LessOrEqual(t, last.start+last.dur, cfg.MinLookAhead+cfg.MaxLookAhead+last.dur)
}

func TestSchedulerSpeechSignals(t *testing.T) {
	sink := newFakeSink(16_000)
	cfg := defaultSchedulerConfig()
	cfg.SpeechHoldOff = 60 * time.Millisecond
	cfg.LevelInterval = 5 * time.Millisecond
	s := NewScheduler(cfg, sink, nil)
	defer s.Stop()

	var starts, ends atomic.Int32
	s.OnSpeechStart(func() { starts.Add(1) })
	s.OnSpeechEnd(func() { ends.Add(1) })
	s.Start()

	// quiet frame: no signal
	s.Push(pcmFrame(10, 1600))
	assert.Equal(t, int32(0), starts.Load())
	assert.False(t, s.Speaking())

	// loud frame flips the signal exactly once
	s.Push(pcmFrame(8000, 1600))
	s.Push(pcmFrame(8000, 1600))
	assert.Equal(t, int32(1), starts.Load())
	assert.True(t, s.Speaking())

	// clock catches up, hold-off elapses, speech ends once
	sink.advance(1.0)
	require.Eventually(t, func() bool { return ends.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Speaking())
	assert.Equal(t, int32(1), starts.Load())
}

func TestSchedulerLevelDecays(t *testing.T) {
	sink := newFakeSink(16_000)
	cfg := defaultSchedulerConfig()
	cfg.LevelInterval = 5 * time.Millisecond
	s := NewScheduler(cfg, sink, nil)
	defer s.Stop()
	s.Start()

	s.Push(pcmFrame(8000, 1600))
	first := s.Level()
	require.Greater(t, first, 0.0)

	require.Eventually(t, func() bool { return s.Level() < first }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.Level() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerIgnoresRunt(t *testing.T) {
	sink := newFakeSink(16_000)
	s := NewScheduler(defaultSchedulerConfig(), sink, nil)
	s.Push([]byte{0x01})
	assert.Empty(t, sink.scheduled())
}
