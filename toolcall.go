package voicecall

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/voicecall-go/events"
	"github.com/codewandler/voicecall-go/tool"
)

// ToolCallConfig tunes response acknowledgment and retry behavior.
type ToolCallConfig struct {
	// AckTimeout is how long to wait for a response to be acknowledged
	// before retrying.
	AckTimeout time.Duration
	// RetryDelay is the backoff base; attempt n waits RetryDelay * n.
	RetryDelay time.Duration
	// MaxRetries is the number of extra attempts after the initial send.
	MaxRetries int
}

func defaultToolCallConfig() ToolCallConfig {
	return ToolCallConfig{
		AckTimeout: 12 * time.Second,
		RetryDelay: 2 * time.Second,
		MaxRetries: 2,
	}
}

// responseRecord tracks one in-flight response. Only the most recently sent
// record per instruction is honored; superseded records finish as no-ops.
type responseRecord struct {
	msgID  string
	callID string
	result string
	sentAt time.Time
	ack    chan struct{}
	acked  bool
}

// ToolCallManager correlates outbound application responses with inbound
// remote instructions. At most one instruction is pending at a time; a new
// instruction implicitly acknowledges the previous response, since the peer
// only advances once it has consumed it.
//
// The manager reads the session's transport through the send func but never
// manages its lifecycle.
type ToolCallManager struct {
	cfg    ToolCallConfig
	send   func(v any) error
	alive  func() bool
	logger *slog.Logger

	onInstruction func(inst tool.Instruction)
	onEvent       func(e any)

	mu          sync.Mutex
	pendingID   string
	pendingName string
	rec         *responseRecord
}

func NewToolCallManager(cfg ToolCallConfig, send func(v any) error, alive func() bool, logger *slog.Logger) *ToolCallManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ToolCallManager{
		cfg:    cfg,
		send:   send,
		alive:  alive,
		logger: logger.With(slog.String("component", "toolcall")),
	}
}

// OnInstruction registers the UI render callback.
func (m *ToolCallManager) OnInstruction(f func(inst tool.Instruction)) { m.onInstruction = f }

// OnEvent registers the observer for tool.Acknowledged, tool.RetryScheduled
// and tool.Failed.
func (m *ToolCallManager) OnEvent(f func(e any)) { m.onEvent = f }

// Pending returns the id of the instruction currently awaiting a response.
func (m *ToolCallManager) Pending() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingID
}

// HandleToolCalls processes an inbound tool-calls frame. Any outstanding
// response record is resolved first — the peer would not have sent a new
// instruction without consuming the last response — then the newest
// instruction becomes authoritative and is dispatched to the UI layer.
func (m *ToolCallManager) HandleToolCalls(evt *events.ToolCallsEvent) {
	for _, tc := range evt.Message.ToolCallList {
		if tc.ID == "" {
			continue
		}

		m.mu.Lock()
		resolved := m.resolveLocked()
		m.pendingID = tc.ID
		m.pendingName = tc.Function.Name
		m.mu.Unlock()

		if resolved != "" {
			m.emit(tool.Acknowledged{CallID: resolved})
		}

		m.logger.Debug("instruction received",
			slog.String("id", tc.ID), slog.String("name", tc.Function.Name))

		if m.onInstruction != nil {
			m.onInstruction(tool.Instruction{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Args(),
			})
		}
	}
}

// resolveLocked acknowledges the outstanding record, if any, and returns its
// call id. Caller holds m.mu.
func (m *ToolCallManager) resolveLocked() string {
	rec := m.rec
	if rec == nil || rec.acked {
		return ""
	}
	rec.acked = true
	close(rec.ack)
	m.rec = nil
	return rec.callID
}

// Submit sends the application's answer to the pending instruction. With no
// instruction pending the payload goes out as a plain conversational
// message instead. Correlated sends run asynchronously through the retry
// loop; Submit itself never blocks on acknowledgment.
func (m *ToolCallManager) Submit(payload any) error {
	result, err := marshalResult(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	m.mu.Lock()
	callID := m.pendingID
	if callID == "" {
		m.mu.Unlock()
		return m.send(events.NewAddMessage(events.ChatMessage{
			Role:    "user",
			Content: result,
		}))
	}

	suffix, _ := nanoid.New(8)
	rec := &responseRecord{
		msgID:  fmt.Sprintf("%s_%d_%s", callID, time.Now().UnixMilli(), suffix),
		callID: callID,
		result: result,
		ack:    make(chan struct{}),
	}
	// A resend for the same instruction supersedes the previous record;
	// its waiter exits silently.
	m.rec = rec
	m.mu.Unlock()

	go m.deliver(rec)
	return nil
}

// deliver sends the response envelopes and retries with progressive backoff
// until acknowledged or the retry budget runs out. Once the session leaves
// Active, or the record is superseded, the chain finishes as a no-op.
func (m *ToolCallManager) deliver(rec *responseRecord) {
	for attempt := 0; ; attempt++ {
		if !m.alive() || m.stale(rec) {
			return
		}

		rec.sentAt = time.Now()
		m.sendEnvelopes(rec)

		select {
		case <-rec.ack:
			return
		case <-time.After(m.cfg.AckTimeout):
		}

		if m.stale(rec) || !m.alive() {
			return
		}

		if attempt >= m.cfg.MaxRetries {
			m.fail(rec, attempt+1)
			return
		}

		delay := m.cfg.RetryDelay * time.Duration(attempt+1)
		m.logger.Warn("response unacknowledged, retrying",
			slog.String("call_id", rec.callID),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))
		m.emit(tool.RetryScheduled{CallID: rec.callID, Attempt: attempt + 1, Delay: delay})

		select {
		case <-rec.ack:
			return
		case <-time.After(delay):
		}
	}
}

// sendEnvelopes sends the response in both forms the peer requires: the
// structured result envelope and the conversational tool message.
func (m *ToolCallManager) sendEnvelopes(rec *responseRecord) {
	if err := m.send(events.NewToolCallsResult(rec.callID, rec.result)); err != nil {
		m.logger.Error("result send failed", slog.Any("err", err))
	}
	if err := m.send(events.NewAddMessage(events.ChatMessage{
		Role:       "tool",
		ToolCallID: rec.callID,
		Content:    rec.result,
	})); err != nil {
		m.logger.Error("tool message send failed", slog.Any("err", err))
	}
}

// fail clears the pending state so the session is not wedged and reports the
// terminal failure exactly once.
func (m *ToolCallManager) fail(rec *responseRecord, attempts int) {
	m.mu.Lock()
	if m.rec == rec {
		m.rec = nil
	}
	if m.pendingID == rec.callID {
		m.pendingID = ""
		m.pendingName = ""
	}
	m.mu.Unlock()

	m.logger.Error("response abandoned after retries",
		slog.String("call_id", rec.callID), slog.Int("attempts", attempts))
	m.emit(tool.Failed{CallID: rec.callID, Attempts: attempts})
}

func (m *ToolCallManager) stale(rec *responseRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec != rec
}

func (m *ToolCallManager) emit(e any) {
	if !m.alive() {
		return
	}
	if m.onEvent != nil {
		m.onEvent(e)
	}
}

func marshalResult(payload any) (string, error) {
	if s, ok := payload.(string); ok {
		return s, nil
	}
	d, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(d), nil
}
