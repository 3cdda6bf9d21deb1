package main

import (
	"context"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	captureFrames = 1024                   // mic pull size
	playLatency   = 100 * time.Millisecond // speaker buffer
)

// ---------------------------- capture side ----------------------------------

// micSource adapts the default microphone to the capture interface. Mono
// float32 frames, left channel only.
type micSource struct {
	rate   int
	stream *microphone.Streamer
}

func newMicSource(rate int) (*micSource, error) {
	stream, _, err := microphone.OpenDefaultStream(beep.SampleRate(rate), 1)
	if err != nil {
		return nil, err
	}
	return &micSource{rate: rate, stream: stream}, nil
}

func (m *micSource) SampleRate() int { return m.rate }

func (m *micSource) Start(ctx context.Context) (<-chan []float32, error) {
	m.stream.Start()

	ch := make(chan []float32, 16)
	go func() {
		defer close(ch)
		frames := make([][2]float64, captureFrames)
		for {
			n, ok := m.stream.Stream(frames)
			if !ok {
				return
			}
			out := make([]float32, n)
			for i := 0; i < n; i++ {
				out[i] = float32(frames[i][0])
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *micSource) Stop() error {
	m.stream.Stop()
	m.stream.Close()
	return nil
}

// ---------------------------- playback side ---------------------------------

// speakerSink mixes scheduled clips onto the speaker against a sample-counter
// clock. Clips scheduled at overlapping times are summed and clamped.
type speakerSink struct {
	rate int

	mu    sync.Mutex
	pos   int64 // samples rendered so far
	clips []clip
}

type clip struct {
	start   int64
	samples []float32
}

func newSpeakerSink(rate int) (*speakerSink, error) {
	sr := beep.SampleRate(rate)
	if err := speaker.Init(sr, sr.N(playLatency)); err != nil {
		return nil, err
	}
	s := &speakerSink{rate: rate}
	speaker.Play(s)
	return s, nil
}

func (s *speakerSink) SampleRate() int { return s.rate }

func (s *speakerSink) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.pos) / float64(s.rate)
}

func (s *speakerSink) PlayAt(buf []float32, start float64) {
	cp := make([]float32, len(buf))
	copy(cp, buf)
	s.mu.Lock()
	s.clips = append(s.clips, clip{start: int64(start * float64(s.rate)), samples: cp})
	s.mu.Unlock()
}

// Stream renders silence where no clip is due, so gaps never glitch.
func (s *speakerSink) Stream(out [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range out {
		pos := s.pos + int64(i)
		var v float64
		for _, c := range s.clips {
			idx := pos - c.start
			if idx >= 0 && idx < int64(len(c.samples)) {
				v += float64(c.samples[idx])
			}
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = [2]float64{v, v}
	}
	s.pos += int64(len(out))

	keep := s.clips[:0]
	for _, c := range s.clips {
		if c.start+int64(len(c.samples)) > s.pos {
			keep = append(keep, c)
		}
	}
	s.clips = keep
	return len(out), true
}

func (s *speakerSink) Err() error { return nil }
