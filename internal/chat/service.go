package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suPer8Hu/orion-chat/internal/ai"
	"github.com/suPer8Hu/orion-chat/internal/background"
)

var ErrEmptyMessage = errors.New("message is required")

type Service struct {
	repo              *Repo
	pipeline          *Pipeline
	registry          *ai.Registry
	provider          string
	model             string
	contextWindowSize int
}

func NewService(repo *Repo, pipeline *Pipeline, registry *ai.Registry, provider, model string, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	if provider == "" {
		provider = defaultProvider
	}
	return &Service{
		repo:              repo,
		pipeline:          pipeline,
		registry:          registry,
		provider:          provider,
		model:             model,
		contextWindowSize: contextWindowSize,
	}
}

const defaultProvider = "openai"

// TurnRequest is one user message. An empty UserID is an anonymous caller,
// an empty ThreadID starts a new thread.
type TurnRequest struct {
	UserID   string
	ThreadID string
	Message  string
}

// TurnStream is a running turn. Events closes after Err; Err carries at most one error.
type TurnStream struct {
	ThreadID string
	TurnID   string
	Events   <-chan StreamEvent
	Err      <-chan error
}

// resolveThread checks ownership of an existing thread. A thread id nobody
// owns yet is accepted as a new thread.
func (s *Service) resolveThread(ctx context.Context, userID, threadID string) (isNew bool, err error) {
	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, err
	}
	if t.UserID != userID || t.IsDeleted {
		return false, ErrThreadNotFound
	}
	return false, nil
}

func (s *Service) history(ctx context.Context, threadID string) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, threadID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	out := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Message})
	}
	return out, nil
}

func (s *Service) describe(p ai.StreamProvider) (provider, model string) {
	provider, model = s.provider, s.model
	if n, ok := p.(ai.Named); ok {
		provider, model = n.ProviderName(), n.ModelName()
	}
	return provider, model
}

// StreamTurn starts a turn and returns its token stream. Errors returned
// here happen before any token; errors on TurnStream.Err happen mid-stream.
//
// For signed-in callers the thread+turn write is fired before the model is
// called and the completion write is fired on the end signal. Neither is
// awaited. Anonymous turns are not persisted.
func (s *Service) StreamTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	turnID := uuid.NewString()

	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	persist := req.UserID != ""

	threadID := req.ThreadID
	newThread := threadID == ""
	if newThread {
		threadID = uuid.NewString()
	}

	msgs := []ai.Message{{Role: ai.RoleSystem, Content: ai.SystemPrompt}}
	if persist && !newThread {
		isNew, err := s.resolveThread(ctx, req.UserID, threadID)
		if err != nil {
			return nil, err
		}
		newThread = isNew
		if !isNew {
			hist, err := s.history(ctx, threadID)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, hist...)
		}
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: req.Message})

	sp, err := s.registry.GetStreaming(ctx, s.provider, s.model)
	if err != nil {
		return nil, err
	}
	providerName, modelName := s.describe(sp)

	var started *background.Task
	if persist {
		started = s.pipeline.StartTurn(ThreadTurn{
			ThreadID:    threadID,
			UserID:      req.UserID,
			TurnID:      turnID,
			UserMessage: req.Message,
		}, newThread)
	}

	start := time.Now()
	pEvents, pErrs := sp.StreamChat(ctx, msgs)

	outEvents := make(chan StreamEvent, 16)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outEvents)
		defer close(outErrs)

		var b strings.Builder
		chunks := 0
		ended := false

		for ev := range Relay(ctx, pEvents) {
			if ev.Type == EventEnd {
				ended = true
				if persist {
					s.pipeline.FinishTurn(started, TurnRecord{
						ThreadID:         threadID,
						UserID:           req.UserID,
						TurnID:           turnID,
						UserMessage:      req.Message,
						AssistantMessage: b.String(),
						Metadata: map[string]any{
							"provider":    providerName,
							"model":       modelName,
							"chunks":      chunks,
							"duration_ms": time.Since(start).Milliseconds(),
						},
					})
				}
			} else {
				b.WriteString(ev.Content)
				chunks++
			}

			select {
			case outEvents <- ev:
			case <-ctx.Done():
			}
		}

		// the provider closes its error channel before its event channel
		err := <-pErrs
		if err == nil && !ended {
			err = ctx.Err()
			if err == nil {
				err = ai.ErrStreamTruncated
			}
		}
		if err == nil {
			return
		}
		if persist && !ended {
			s.pipeline.FailTurn(started, turnID)
		}
		outErrs <- err
	}()

	return &TurnStream{ThreadID: threadID, TurnID: turnID, Events: outEvents, Err: outErrs}, nil
}

// Page describes one page of a listing.
type Page struct {
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
	Total  int64 `json:"total"`
}

func (p Page) HasMore() bool { return int64(p.Offset+p.Limit) < p.Total }

func newPage(offset, limit, def, max int) Page {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > max {
		limit = def
	}
	return Page{Offset: offset, Limit: limit}
}

func (s *Service) ListThreads(ctx context.Context, userID string, offset, limit int) ([]Thread, Page, error) {
	page := newPage(offset, limit, 20, 100)
	threads, total, err := s.repo.ListThreads(ctx, userID, page.Offset, page.Limit)
	page.Total = total
	return threads, page, err
}

func (s *Service) ListMessages(ctx context.Context, userID, threadID string, offset, limit int) ([]Message, Page, error) {
	page := newPage(offset, limit, 50, 200)
	if _, err := s.repo.GetOwnedThread(ctx, userID, threadID); err != nil {
		return nil, page, err
	}
	msgs, total, err := s.repo.ListMessages(ctx, threadID, page.Offset, page.Limit)
	page.Total = total
	return msgs, page, err
}

func (s *Service) RenameThread(ctx context.Context, userID, threadID, title string) error {
	return s.repo.RenameThread(ctx, userID, threadID, strings.TrimSpace(title))
}

func (s *Service) DeleteThread(ctx context.Context, userID, threadID string) error {
	return s.repo.SoftDeleteThread(ctx, userID, threadID)
}
