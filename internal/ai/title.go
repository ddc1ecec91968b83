package ai

import (
	"context"
	"strings"
	"unicode/utf8"
)

const maxTitleRunes = 80

// TitleGenerator names a thread from its first user message.
type TitleGenerator struct {
	provider Provider
}

func NewTitleGenerator(p Provider) *TitleGenerator {
	return &TitleGenerator{provider: p}
}

func (g *TitleGenerator) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	reply, err := g.provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: TitlePrompt},
		{Role: RoleUser, Content: userMessage},
	})
	if err != nil {
		return "", err
	}
	return cleanTitle(reply), nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "\"'`*# ")
	s = strings.TrimRight(s, ".!")
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = string([]rune(s)[:maxTitleRunes])
	}
	return strings.TrimSpace(s)
}
