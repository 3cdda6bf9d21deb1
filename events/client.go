package events

// ChatMessage is the inner "message" object of an add-message frame.
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type AddMessageEvent struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

func NewAddMessage(msg ChatMessage) AddMessageEvent {
	return AddMessageEvent{Type: TypeAddMessage, Message: msg}
}

// ToolCallResult correlates an application result with the remote
// instruction that requested it.
type ToolCallResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

type ToolCallsResultEvent struct {
	Type           string         `json:"type"`
	ToolCallResult ToolCallResult `json:"toolCallResult"`
}

func NewToolCallsResult(toolCallID, result string) ToolCallsResultEvent {
	return ToolCallsResultEvent{
		Type:           TypeToolCallsResult,
		ToolCallResult: ToolCallResult{ToolCallID: toolCallID, Result: result},
	}
}

type EndCallEvent struct {
	Type string `json:"type"`
}

func NewEndCall() EndCallEvent {
	return EndCallEvent{Type: TypeEndCall}
}
