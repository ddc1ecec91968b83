package models

import (
	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/ratelimit"
)

// All lists every table the service owns, in migration order.
func All() []any {
	out := []any{&User{}}
	out = append(out, chat.Models()...)
	return append(out, &ratelimit.AnonymousUsage{})
}
