package events

import "encoding/json"

// Envelope carries the discriminator shared by every JSON text frame on the
// wire. Binary frames (raw PCM16) never reach this package.
type Envelope struct {
	Type string `json:"type"`
}

const (
	TypeAddMessage      = "add-message"
	TypeToolCallsResult = "tool-calls-result"
	TypeToolCalls       = "tool-calls"
	TypeTranscript      = "transcript"
	TypeEndCall         = "end-call"
)

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
