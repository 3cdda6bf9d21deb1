package events

import "encoding/json"

// ToolCallFunction names the requested UI action. Arguments arrive as a raw
// JSON object; some peers double-encode them as a string, so decoding is left
// to the consumer.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallsEvent struct {
	Type    string `json:"type"`
	Message struct {
		ToolCallList []ToolCall `json:"toolCallList"`
	} `json:"message"`
}

const TranscriptFinal = "final"

type TranscriptEvent struct {
	Type           string `json:"type"`
	Role           string `json:"role"`
	TranscriptType string `json:"transcriptType"`
	Transcript     string `json:"transcript"`
}

// Args decodes the argument payload, tolerating both the object form and the
// string-encoded form seen in the wild.
func (f ToolCallFunction) Args() map[string]any {
	if len(f.Arguments) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(f.Arguments, &m); err == nil {
		return m
	}
	var s string
	if err := json.Unmarshal(f.Arguments, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m
		}
	}
	return map[string]any{}
}
