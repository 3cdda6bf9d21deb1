package tool

import "time"

// Instruction is one remote tool call handed to the host UI layer for
// rendering. The UI eventually answers it via the client's Submit.
type Instruction struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Observer events emitted by the tool-call manager. Notification rendering
// is left to the host so the core stays UI-agnostic.

// Acknowledged fires when a pending response is confirmed consumed, either
// explicitly or implicitly by the arrival of the next instruction.
type Acknowledged struct {
	CallID string
}

// RetryScheduled fires before each re-send of an unacknowledged response.
type RetryScheduled struct {
	CallID  string
	Attempt int
	Delay   time.Duration
}

// Failed fires exactly once when the retry budget for an instruction is
// exhausted. The pending state has already been cleared at that point.
type Failed struct {
	CallID   string
	Attempts int
}
