package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

func collect(t *testing.T, events <-chan Event, errs <-chan error) ([]Event, error) {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

func TestOllamaStreamChat_EmitsLifecycleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3:latest", req.Model)

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	evCh, errCh := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	events, err := collect(t, evCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []Event{
		TokenChunk{Text: "Hel"},
		Other{Kind: "frame"},
		TokenChunk{Text: "lo"},
		Other{Kind: "frame"},
		StreamEnd{FinishReason: "stop"},
	}, events)
}

func TestOllamaStreamChat_ReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	evCh, errCh := NewOllamaProvider(srv.URL, "m").StreamChat(context.Background(), nil)
	events, err := collect(t, evCh, errCh)
	require.EqualError(t, err, "model crashed")
	assert.Equal(t, []Event{TokenChunk{Text: "a"}}, events)
}

func TestOllamaChat_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Chat(context.Background(), nil)
	require.EqualError(t, err, "ollama: status 502")
}

func TestOpenRouterStreamChat_EmitsLifecycleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"id\":\"x\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "some/model", "", "")
	evCh, errCh := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	events, err := collect(t, evCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []Event{
		Other{Kind: "frame"},
		TokenChunk{Text: "Hi"},
		Other{Kind: "tool_call"},
		TokenChunk{Text: " there"},
		Other{Kind: "finish"},
		StreamEnd{FinishReason: "stop"},
	}, events)
}

func TestOpenRouterRequiresAPIKey(t *testing.T) {
	p := NewOpenRouterProvider("http://unused", "", "m", "", "")
	evCh, errCh := p.StreamChat(context.Background(), nil)
	_, err := collect(t, evCh, errCh)
	require.EqualError(t, err, "openrouter: api key is required")
}

type fakeLLM struct {
	chunks []string
	reply  string
	err    error
	got    []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply, StopReason: "stop"}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangchainProvider_StreamChat(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Hello", "", " world"}, reply: "Hello world"}
	p := NewLangchainProvider(llm, LangchainOptions{Provider: "openai", Model: "gpt-test", Temperature: 0.7, MaxTokens: 100})

	evCh, errCh := p.StreamChat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "before"},
	})
	events, err := collect(t, evCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []Event{
		TokenChunk{Text: "Hello"},
		TokenChunk{Text: ""},
		TokenChunk{Text: " world"},
		StreamEnd{FinishReason: "stop"},
	}, events)

	require.Len(t, llm.got, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, llm.got[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, llm.got[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, llm.got[2].Role)
	assert.Equal(t, "openai", p.ProviderName())
	assert.Equal(t, "gpt-test", p.ModelName())
}

func TestLangchainProvider_StreamError(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"partial"}, err: errors.New("rate limited")}
	p := NewLangchainProvider(llm, LangchainOptions{Provider: "openai"})

	evCh, errCh := p.StreamChat(context.Background(), nil)
	events, err := collect(t, evCh, errCh)
	require.ErrorContains(t, err, "rate limited")
	assert.Equal(t, []Event{TokenChunk{Text: "partial"}}, events)
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "", LangchainOptions{})
	require.Error(t, err)
}

type staticProvider struct{ reply string }

func (s staticProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return s.reply, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Static ", func(ctx context.Context, model string) (Provider, error) {
		return staticProvider{reply: model}, nil
	})
	reg.Register("stream", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider("", model), nil
	})

	p, err := reg.Get(context.Background(), "STATIC", "m1")
	require.NoError(t, err)
	reply, _ := p.Chat(context.Background(), nil)
	assert.Equal(t, "m1", reply)

	_, err = reg.GetStreaming(context.Background(), "static", "m1")
	require.ErrorContains(t, err, "does not support streaming")

	sp, err := reg.GetStreaming(context.Background(), "stream", "m2")
	require.NoError(t, err)
	assert.NotNil(t, sp)

	_, err = reg.Get(context.Background(), "missing", "")
	require.EqualError(t, err, "unknown ai provider: missing")
	assert.Equal(t, []string{"static", "stream"}, reg.Names())
}

func TestTitleGenerator(t *testing.T) {
	cases := map[string]string{
		"Photosynthesis Basics":                   "Photosynthesis Basics",
		"  \"Trip to Lisbon.\"  ":                 "Trip to Lisbon",
		"**Go Concurrency**\nsecond line ignored": "Go Concurrency",
	}
	for reply, want := range cases {
		g := NewTitleGenerator(staticProvider{reply: reply})
		got, err := g.GenerateTitle(context.Background(), "anything")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
