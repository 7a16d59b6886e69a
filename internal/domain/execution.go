package domain

import "time"

// ExecutionRequest is one caller-submitted generation.
type ExecutionRequest struct {
	Tool    string
	Model   string
	Prompt  string
	Timeout time.Duration
	Stream  bool
}

// ExecutionResult is the outcome of a completed generation.
type ExecutionResult struct {
	ID      string
	Tool    string
	Mode    ToolMode
	Model   string
	Output  string
	Elapsed time.Duration
}

// StreamEventKind tags a StreamEvent.
type StreamEventKind string

const (
	StreamEventChunk StreamEventKind = "chunk"
	StreamEventError StreamEventKind = "error"
	StreamEventDone  StreamEventKind = "done"
)

// StreamEvent is one element of a streamed execution. A stream ends with
// exactly one Done or Error event unless the caller went away.
type StreamEvent struct {
	Kind StreamEventKind
	Data string
	Err  error
}

// ClampTimeout bounds a requested timeout, falling back to def when unset.
func ClampTimeout(requested, def, lower, upper time.Duration) time.Duration {
	if requested <= 0 {
		requested = def
	}
	if requested < lower {
		return lower
	}
	if requested > upper {
		return upper
	}
	return requested
}
