package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Provider answers a conversation in one shot.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Named is implemented by providers that can report what they are for message metadata.
type Named interface {
	ProviderName() string
	ModelName() string
}
