package voicecall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/codewandler/voicecall-go/events"
	"github.com/codewandler/voicecall-go/internal/websocket"
	"github.com/codewandler/voicecall-go/tool"
)

var (
	// ErrCallInProgress is returned by Start while a session is live or a
	// prior transport has not finished closing.
	ErrCallInProgress = errors.New("voicecall: call already in progress")
	// ErrNoActiveCall is returned by operations that need a live session.
	ErrNoActiveCall = errors.New("voicecall: no active call")
)

// SessionState is the call lifecycle position.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateAwaitingDevice
	StateActive
	StateClosing
)

// Client drives one voice-assistant call at a time: HTTP bootstrap, a
// websocket carrying PCM16 binary frames and JSON control frames, the
// capture/encode/VAD graph on the way out and the playback scheduler on the
// way in. The Client owns every session handle exclusively; other components
// see read-only views.
type Client struct {
	config *clientConfig
	logger *slog.Logger

	onTranscript func(role, text string, final bool)
	onToolCall   func(inst tool.Instruction)
	onToolEvent  func(e any)
	onStatus     func(s Status)

	mu       sync.Mutex
	state    SessionState
	sess     *session
	prevDone <-chan struct{}
}

// session bundles everything owned by one live call. Created on Start,
// destroyed on teardown; at most one exists at a time.
type session struct {
	ws       *websocket.Client
	capture  CaptureSource
	ring     *ringbuffer.RingBuffer
	vad      *Detector
	playback *Scheduler
	status   *StatusTracker
	tools    *ToolCallManager

	cancel       context.CancelFunc
	active       atomic.Bool
	lastActivity atomic.Int64 // unix nanos
	startedAt    time.Time
	closeOnce    sync.Once
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) sendJSON(v any) error {
	return s.ws.WriteJSON(v)
}

func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	return &Client{
		config: config,
		logger: config.logger,
	}
}

// OnTranscript registers the transcript callback; final tells apart final
// and partial transcripts.
func (c *Client) OnTranscript(f func(role, text string, final bool)) { c.onTranscript = f }

// OnToolCall registers the UI render callback for remote instructions.
func (c *Client) OnToolCall(f func(inst tool.Instruction)) { c.onToolCall = f }

// OnToolEvent registers the observer for tool correlation events.
func (c *Client) OnToolEvent(f func(e any)) { c.onToolEvent = f }

// OnStatus registers the presentation state callback.
func (c *Client) OnStatus(f func(s Status)) { c.onStatus = f }

// State returns the current lifecycle position.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens a call: bootstrap, transport, capture device, audio graph.
// Exactly one session may be live; a second Start is rejected until the
// previous transport has fully closed. Cancelling ctx after Start returns
// tears the call down.
func (c *Client) Start(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCallInProgress
	}
	if c.prevDone != nil {
		select {
		case <-c.prevDone:
		default:
			c.mu.Unlock()
			return ErrCallInProgress
		}
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.emitStatus(StatusConnecting)

	err := c.start(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.emitStatus(StatusIdle)
	}
	return err
}

func (c *Client) start(ctx context.Context) error {
	transportURL, err := c.createCall(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel, startedAt: time.Now()}
	sess.touch()

	playback := NewScheduler(c.config.scheduler, c.config.sink, c.logger)
	vad := NewDetector(c.config.detector, c.logger)
	vad.SuspendWhen(playback.Speaking)
	status := NewStatusTracker(c.config.status, playback.Speaking)
	tools := NewToolCallManager(c.config.toolcall, sess.sendJSON, sess.active.Load, c.logger)

	sess.playback = playback
	sess.vad = vad
	sess.status = status
	sess.tools = tools

	status.OnChange(c.emitStatus)
	status.OnReminder(func() {
		c.logger.Debug("idle reminder")
	})
	tools.OnInstruction(func(inst tool.Instruction) {
		sess.touch()
		if c.onToolCall != nil {
			c.onToolCall(inst)
		}
	})
	tools.OnEvent(func(e any) {
		if c.onToolEvent != nil {
			c.onToolEvent(e)
		}
	})
	vad.OnSpeechStart(func() {
		sess.touch()
		status.UserSpeechStarted()
	})
	vad.OnSpeechEnd(status.UserSpeechEnded)
	playback.OnSpeechStart(func() {
		sess.touch()
		status.AISpeechStarted()
	})
	playback.OnSpeechEnd(status.AISpeechEnded)

	ws, err := websocket.Connect(sessCtx, websocket.ClientConfig{
		Logger:      c.logger,
		URL:         transportURL,
		DialTimeout: c.config.connectTimeout,
		OnText: func(data []byte) error {
			c.handleText(sess, data)
			return nil
		},
		OnBinary: func(data []byte) error {
			playback.Push(data)
			return nil
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("transport: %w", err)
	}
	sess.ws = ws

	c.setState(StateAwaitingDevice)

	frames, err := c.config.capture.Start(sessCtx)
	if err != nil {
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = ws.Close(closeCtx)
		done()
		return fmt.Errorf("capture: %w", err)
	}
	sess.capture = c.config.capture

	// capture -> encoder -> {VAD, ring} -> socket. The ring decouples the
	// capture callback path from transport I/O; the pump below is the only
	// reader.
	blockBytes := c.config.blockSize * 2
	ring := ringbuffer.New(blockBytes * 16).SetBlocking(true)
	sess.ring = ring

	enc := NewEncoder(c.config.capture.SampleRate(), c.config.sampleRate, c.config.blockSize, func(block []byte) {
		vad.Process(block)
		if _, err := ring.Write(block); err != nil {
			c.logger.Debug("capture ring write failed", slog.Any("err", err))
		}
	})

	go func() {
		for frame := range frames {
			enc.Process(frame)
		}
		ring.CloseWriter()
	}()
	go c.pump(sess, blockBytes)

	vad.Start()
	playback.Start()
	status.Start()

	sess.active.Store(true)
	c.mu.Lock()
	c.sess = sess
	c.state = StateActive
	c.mu.Unlock()
	status.Active()

	// transport closure or ctx cancellation ends the session
	go func() {
		select {
		case <-ws.Done():
			c.teardown(sess, "transport closed")
		case <-sessCtx.Done():
			c.teardown(sess, "context canceled")
		}
	}()

	if c.config.inactivityTimeout > 0 {
		go c.monitorInactivity(sess, sessCtx)
	}

	c.logger.Info("call started", slog.String("assistant", c.config.assistantID))
	return nil
}

// pump moves encoded blocks from the capture ring onto the wire in fixed
// chunks, in capture order.
func (c *Client) pump(sess *session, blockBytes int) {
	r := NewFixedChunkReader(sess.ring, blockBytes)
	buf := make([]byte, blockBytes)
	for {
		n, err := r.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("capture pump failed", slog.Any("err", err))
			}
			return
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		sess.ws.WriteBinary(out)
	}
}

func (c *Client) monitorInactivity(sess *session, ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !sess.active.Load() {
				return
			}
			last := time.Unix(0, sess.lastActivity.Load())
			if time.Since(last) >= c.config.inactivityTimeout {
				c.logger.Info("inactivity timeout, disconnecting")
				c.teardown(sess, "inactivity")
				return
			}
		}
	}
}

// handleText routes inbound JSON frames. Malformed payloads are dropped and
// never crash the session.
func (c *Client) handleText(sess *session, data []byte) {
	env, err := events.Parse[events.Envelope](data)
	if err != nil {
		c.logger.Debug("dropping malformed frame", slog.Any("err", err))
		return
	}

	switch env.Type {
	case events.TypeToolCalls:
		evt, err := events.Parse[events.ToolCallsEvent](data)
		if err != nil {
			c.logger.Debug("dropping malformed tool-calls frame", slog.Any("err", err))
			return
		}
		sess.tools.HandleToolCalls(evt)
	case events.TypeTranscript:
		evt, err := events.Parse[events.TranscriptEvent](data)
		if err != nil {
			c.logger.Debug("dropping malformed transcript frame", slog.Any("err", err))
			return
		}
		sess.touch()
		if c.onTranscript != nil {
			c.onTranscript(evt.Role, evt.Transcript, evt.TranscriptType == events.TranscriptFinal)
		}
	default:
		c.logger.Debug("unhandled frame", slog.String("type", env.Type))
	}
}

// Submit answers the pending remote instruction, or sends a plain message
// when nothing is pending.
func (c *Client) Submit(payload any) error {
	sess := c.session()
	if sess == nil {
		return ErrNoActiveCall
	}
	return sess.tools.Submit(payload)
}

// SendText sends a plain conversational message outside tool correlation.
func (c *Client) SendText(text string) error {
	sess := c.session()
	if sess == nil {
		return ErrNoActiveCall
	}
	return sess.sendJSON(events.NewAddMessage(events.ChatMessage{
		Role:    "user",
		Content: text,
	}))
}

// SetProcessing toggles the processing presentation state around slow host
// work.
func (c *Client) SetProcessing(on bool) {
	if sess := c.session(); sess != nil {
		sess.status.SetProcessing(on)
	}
}

// Level returns the smoothed assistant output loudness, 0 when no call is
// live.
func (c *Client) Level() float64 {
	if sess := c.session(); sess != nil {
		return sess.playback.Level()
	}
	return 0
}

// Stop ends the current call. Safe to call when none is live.
func (c *Client) Stop() {
	sess := c.session()
	if sess == nil {
		return
	}
	c.teardown(sess, "stopped")
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emitStatus(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// teardown releases session resources in order; a failing step never blocks
// the rest. Runs at most once per session.
func (c *Client) teardown(sess *session, reason string) {
	sess.closeOnce.Do(func() {
		c.setState(StateClosing)
		sess.active.Store(false)
		c.logger.Info("call ending", slog.String("reason", reason),
			slog.Duration("duration", time.Since(sess.startedAt)))

		step := func(name string, f func() error) {
			if err := f(); err != nil {
				c.logger.Warn("teardown step failed", slog.String("step", name), slog.Any("err", err))
			}
		}

		// best-effort end-of-call notification while the socket may still
		// be up
		step("end-call", func() error {
			return sess.ws.WriteJSON(events.NewEndCall())
		})
		step("graph", func() error {
			sess.cancel()
			if sess.ring != nil {
				sess.ring.CloseWriter()
			}
			return nil
		})
		step("capture", func() error {
			if sess.capture != nil {
				return sess.capture.Stop()
			}
			return nil
		})
		sess.vad.Reset()
		sess.playback.Stop()
		sess.status.Stop()
		step("transport", func() error {
			closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return sess.ws.Close(closeCtx)
		})

		c.mu.Lock()
		c.sess = nil
		c.prevDone = sess.ws.Done()
		c.state = StateIdle
		c.mu.Unlock()
		c.emitStatus(StatusIdle)
	})
}

// createCall asks the bootstrap endpoint for a transport URL.
func (c *Client) createCall(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"assistantId": c.config.assistantID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.secret != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.config.secret))
	}

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("call creation returned %s", resp.Status)
	}

	var out struct {
		WebCallURL string `json:"webCallUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.WebCallURL == "" {
		return "", fmt.Errorf("response missing webCallUrl")
	}
	return out.WebCallURL, nil
}
