package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangchainProvider adapts a langchaingo llms.Model.
type LangchainProvider struct {
	llm         llms.Model
	provider    string
	model       string
	temperature float64
	maxTokens   int
}

type LangchainOptions struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewLangchainProvider(llm llms.Model, opts LangchainOptions) *LangchainProvider {
	return &LangchainProvider{
		llm:         llm,
		provider:    opts.Provider,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

// NewOpenAIProvider builds the OpenAI chat model through langchaingo.
func NewOpenAIProvider(apiKey, baseURL string, opts LangchainOptions) (*LangchainProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	clientOpts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(opts.Model),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	opts.Provider = "openai"
	return NewLangchainProvider(llm, opts), nil
}

func (p *LangchainProvider) ProviderName() string { return p.provider }
func (p *LangchainProvider) ModelName() string    { return p.model }

func (p *LangchainProvider) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if p.temperature > 0 {
		opts = append(opts, llms.WithTemperature(p.temperature))
	}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	return opts
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func (p *LangchainProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.llm.GenerateContent(ctx, toMessageContent(messages), p.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", p.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no response choices", p.provider)
	}
	return resp.Choices[0].Content, nil
}

// StreamChat runs GenerateContent with a streaming callback. Every callback
// chunk becomes a TokenChunk; the returned response becomes the StreamEnd.
func (p *LangchainProvider) StreamChat(ctx context.Context, messages []Message) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		opts := append(p.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if !send(ctx, events, TokenChunk{Text: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}))

		resp, err := p.llm.GenerateContent(ctx, toMessageContent(messages), opts...)
		if err != nil {
			errs <- fmt.Errorf("%s: stream: %w", p.provider, err)
			return
		}

		reason := ""
		if resp != nil && len(resp.Choices) > 0 {
			reason = resp.Choices[0].StopReason
		}
		if !send(ctx, events, StreamEnd{FinishReason: reason}) {
			errs <- ctx.Err()
		}
	}()

	return events, errs
}
