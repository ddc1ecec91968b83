package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
//
// Both channels are closed when the stream is over. At most one error is sent,
// and it is sent before the events channel closes.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan Event, <-chan error)
}
