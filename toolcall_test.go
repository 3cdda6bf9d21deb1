package voicecall

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/voicecall-go/events"
	"github.com/codewandler/voicecall-go/tool"
)

type toolHarness struct {
	mu       sync.Mutex
	sent     []any
	observed []any
	alive    atomic.Bool
	mgr      *ToolCallManager
}

func newToolHarness(cfg ToolCallConfig) *toolHarness {
	h := &toolHarness{}
	h.alive.Store(true)
	h.mgr = NewToolCallManager(cfg, h.send, h.alive.Load, nil)
	h.mgr.OnEvent(func(e any) {
		h.mu.Lock()
		h.observed = append(h.observed, e)
		h.mu.Unlock()
	})
	return h
}

func (h *toolHarness) send(v any) error {
	h.mu.Lock()
	h.sent = append(h.sent, v)
	h.mu.Unlock()
	return nil
}

func (h *toolHarness) sentFrames() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *toolHarness) eventLog() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.observed))
	copy(out, h.observed)
	return out
}

func instructionFrame(id, name string) *events.ToolCallsEvent {
	evt := &events.ToolCallsEvent{Type: events.TypeToolCalls}
	evt.Message.ToolCallList = []events.ToolCall{
		{ID: id, Function: events.ToolCallFunction{Name: name}},
	}
	return evt
}

func TestSubmitWithoutPendingSendsPlainMessage(t *testing.T) {
	h := newToolHarness(defaultToolCallConfig())

	require.NoError(t, h.mgr.Submit(map[string]any{"answer": 42}))

	frames := h.sentFrames()
	require.Len(t, frames, 1)
	msg, ok := frames[0].(events.AddMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "user", msg.Message.Role)
	assert.Empty(t, msg.Message.ToolCallID)
	for _, f := range frames {
		_, isResult := f.(events.ToolCallsResultEvent)
		assert.False(t, isResult)
	}
}

func TestSubmitWithPendingSendsBothEnvelopes(t *testing.T) {
	h := newToolHarness(defaultToolCallConfig())

	h.mgr.HandleToolCalls(instructionFrame("tc-1", "show_cards"))
	require.Equal(t, "tc-1", h.mgr.Pending())

	require.NoError(t, h.mgr.Submit("picked: oak"))

	require.Eventually(t, func() bool { return len(h.sentFrames()) == 2 }, time.Second, 5*time.Millisecond)
	frames := h.sentFrames()

	result, ok := frames[0].(events.ToolCallsResultEvent)
	require.True(t, ok)
	assert.Equal(t, "tc-1", result.ToolCallResult.ToolCallID)
	assert.Equal(t, "picked: oak", result.ToolCallResult.Result)

	msg, ok := frames[1].(events.AddMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "tool", msg.Message.Role)
	assert.Equal(t, "tc-1", msg.Message.ToolCallID)
}

func TestNewInstructionResolvesPreviousBeforeDispatch(t *testing.T) {
	h := newToolHarness(defaultToolCallConfig())

	var order []string
	var orderMu sync.Mutex
	h.mgr.OnInstruction(func(inst tool.Instruction) {
		orderMu.Lock()
		order = append(order, "render:"+inst.ID)
		orderMu.Unlock()
	})
	h.mgr.OnEvent(func(e any) {
		if ack, ok := e.(tool.Acknowledged); ok {
			orderMu.Lock()
			order = append(order, "ack:"+ack.CallID)
			orderMu.Unlock()
		}
	})

	h.mgr.HandleToolCalls(instructionFrame("tc-1", "show_cards"))
	require.NoError(t, h.mgr.Submit("first answer"))

	// next instruction implicitly acknowledges the first response
	h.mgr.HandleToolCalls(instructionFrame("tc-2", "ask_question"))

	orderMu.Lock()
	defer orderMu.Unlock()
	require.Equal(t, []string{"render:tc-1", "ack:tc-1", "render:tc-2"}, order)
	assert.Equal(t, "tc-2", h.mgr.Pending())
}

func TestRetryExhaustionFailsOnce(t *testing.T) {
	h := newToolHarness(ToolCallConfig{
		AckTimeout: 30 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
		MaxRetries: 2,
	})

	h.mgr.HandleToolCalls(instructionFrame("tc-1", "show_cards"))
	require.NoError(t, h.mgr.Submit("unanswered"))

	require.Eventually(t, func() bool {
		for _, e := range h.eventLog() {
			if _, ok := e.(tool.Failed); ok {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	var retries, failures int
	for _, e := range h.eventLog() {
		switch e.(type) {
		case tool.RetryScheduled:
			retries++
		case tool.Failed:
			failures++
		}
	}
	assert.Equal(t, 2, retries)
	assert.Equal(t, 1, failures)

	// pending state cleared so the session is not wedged
	assert.Empty(t, h.mgr.Pending())

	// 3 attempts x 2 envelopes
	assert.Len(t, h.sentFrames(), 6)

	// and subsequent submits fall back to plain messages
	before := len(h.sentFrames())
	require.NoError(t, h.mgr.Submit("later"))
	frames := h.sentFrames()
	require.Len(t, frames, before+1)
	_, isMsg := frames[len(frames)-1].(events.AddMessageEvent)
	assert.True(t, isMsg)
}

func TestTeardownMidRetrySilencesEvents(t *testing.T) {
	h := newToolHarness(ToolCallConfig{
		AckTimeout: 50 * time.Millisecond,
		RetryDelay: 20 * time.Millisecond,
		MaxRetries: 2,
	})

	h.mgr.HandleToolCalls(instructionFrame("tc-1", "show_cards"))
	require.NoError(t, h.mgr.Submit("unanswered"))

	// session leaves Active before the first ack timeout expires
	time.Sleep(20 * time.Millisecond)
	h.alive.Store(false)

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, h.eventLog())
	// only the initial pair of envelopes went out
	assert.Len(t, h.sentFrames(), 2)
}

func TestResendSupersedesRecord(t *testing.T) {
	h := newToolHarness(ToolCallConfig{
		AckTimeout: 40 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
		MaxRetries: 1,
	})

	h.mgr.HandleToolCalls(instructionFrame("tc-1", "show_cards"))
	require.NoError(t, h.mgr.Submit("draft"))
	require.NoError(t, h.mgr.Submit("final"))

	// only the latest record may fail; the superseded one exits silently
	require.Eventually(t, func() bool {
		for _, e := range h.eventLog() {
			if _, ok := e.(tool.Failed); ok {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	var failures int
	for _, e := range h.eventLog() {
		if _, ok := e.(tool.Failed); ok {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}
