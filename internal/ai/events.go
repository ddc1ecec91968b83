package ai

import "errors"

// ErrStreamTruncated is reported when a model stream closes without an end signal.
var ErrStreamTruncated = errors.New("model stream ended without completion signal")

// Event is a lifecycle event of one model invocation. The set of
// implementations is closed: TokenChunk, StreamEnd and Other.
type Event interface {
	isEvent()
}

// TokenChunk carries an incremental piece of generated text. Text may be empty.
type TokenChunk struct {
	Text string
}

// StreamEnd signals that generation finished.
type StreamEnd struct {
	FinishReason string
}

// Other is any lifecycle event the relay has no use for (tool calls, role
// headers, usage frames, keep-alives).
type Other struct {
	Kind string
}

func (TokenChunk) isEvent() {}
func (StreamEnd) isEvent()  {}
func (Other) isEvent()      {}
