package chat

import (
	"context"

	"github.com/suPer8Hu/orion-chat/internal/ai"
)

const (
	EventToken = "token"
	EventEnd   = "end"
)

// StreamEvent is what the HTTP layer writes to the wire.
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Relay filters model lifecycle events down to token events and a single
// trailing end event. Chunks without text and Other events are dropped.
// Anything after the end signal is drained and discarded, as is everything
// once ctx is done, so the producer never blocks on a gone consumer.
// The returned channel closes when in closes.
func Relay(ctx context.Context, in <-chan ai.Event) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		forwarding := true
		emit := func(ev StreamEvent) {
			select {
			case out <- ev:
			case <-ctx.Done():
				forwarding = false
			}
		}

		for ev := range in {
			if !forwarding {
				continue
			}
			switch e := ev.(type) {
			case ai.TokenChunk:
				if e.Text != "" {
					emit(StreamEvent{Type: EventToken, Content: e.Text})
				}
			case ai.StreamEnd:
				emit(StreamEvent{Type: EventEnd})
				forwarding = false
			}
		}
	}()

	return out
}
