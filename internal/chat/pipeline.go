package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/orion-chat/internal/background"
	"github.com/suPer8Hu/orion-chat/internal/logger"
)

const (
	fallbackTitleRunes   = 30
	outboxPublishTimeout = 5 * time.Second
)

// Titler names a new thread from its first message.
type Titler interface {
	GenerateTitle(ctx context.Context, userMessage string) (string, error)
}

// Outbox receives turns whose completion write failed, for a later replay.
type Outbox interface {
	PublishTurn(ctx context.Context, rec TurnRecord) error
}

// Pipeline fires the persistence writes of a turn in the background.
// Every method returns immediately; failures only reach the log.
type Pipeline struct {
	repo     *Repo
	launcher *background.Launcher
	titler   Titler
	outbox   Outbox
	log      *logger.Logger
	tracer   trace.Tracer
}

// NewPipeline builds a pipeline. titler and outbox are optional.
func NewPipeline(repo *Repo, launcher *background.Launcher, titler Titler, outbox Outbox, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		repo:     repo,
		launcher: launcher,
		titler:   titler,
		outbox:   outbox,
		log:      log.With("component", "chat.pipeline"),
		tracer:   otel.Tracer("github.com/suPer8Hu/orion-chat/internal/chat"),
	}
}

// FallbackTitle is the title used when no generated title is available.
func FallbackTitle(userMessage string) string {
	s := strings.TrimSpace(userMessage)
	if utf8.RuneCountInString(s) <= fallbackTitleRunes {
		return s
	}
	return string([]rune(s)[:fallbackTitleRunes]) + "..."
}

func (p *Pipeline) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (p *Pipeline) title(ctx context.Context, userMessage string) string {
	if p.titler == nil {
		return FallbackTitle(userMessage)
	}
	title, err := p.titler.GenerateTitle(ctx, userMessage)
	if err != nil || strings.TrimSpace(title) == "" {
		p.log.Warn("title generation failed, using fallback", "error", err)
		return FallbackTitle(userMessage)
	}
	return title
}

func waitFor(ctx context.Context, after *background.Task) error {
	if after == nil {
		return nil
	}
	select {
	case <-after.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartTurn fires the thread+turn creation. A title is generated only for a
// new thread; an existing thread keeps its title either way.
func (p *Pipeline) StartTurn(in ThreadTurn, newThread bool) *background.Task {
	return p.launcher.Fire("create_thread_and_turn", func(ctx context.Context) (err error) {
		ctx, end := p.span(ctx, "chat.create_thread_and_turn",
			attribute.String("thread_id", in.ThreadID),
			attribute.String("turn_id", in.TurnID))
		defer func() { end(err) }()

		if newThread && in.Title == "" {
			in.Title = p.title(ctx, in.UserMessage)
		}
		return p.repo.CreateThreadAndTurn(ctx, in)
	}, "thread_id", in.ThreadID, "turn_id", in.TurnID)
}

// FinishTurn fires the completion write once after is done. If the write
// fails, or after never finishes in time, and an outbox is configured, the
// full record is handed to it.
func (p *Pipeline) FinishTurn(after *background.Task, rec TurnRecord) *background.Task {
	return p.launcher.Fire("complete_turn", func(ctx context.Context) (err error) {
		ctx, end := p.span(ctx, "chat.complete_turn",
			attribute.String("thread_id", rec.ThreadID),
			attribute.String("turn_id", rec.TurnID))
		defer func() { end(err) }()

		err = waitFor(ctx, after)
		if err == nil {
			err = p.repo.CompleteTurn(ctx, TurnCompletion{
				ThreadID:         rec.ThreadID,
				TurnID:           rec.TurnID,
				UserMessage:      rec.UserMessage,
				AssistantMessage: rec.AssistantMessage,
				Metadata:         rec.Metadata,
			})
		}
		if err == nil || p.outbox == nil {
			return err
		}
		return p.enqueue(ctx, rec, err)
	}, "thread_id", rec.ThreadID, "turn_id", rec.TurnID)
}

// enqueue publishes rec for replay. ctx may already be done when the write
// ran out of time, so the publish gets its own deadline.
func (p *Pipeline) enqueue(ctx context.Context, rec TurnRecord, cause error) error {
	if rec.Title == "" {
		rec.Title = FallbackTitle(rec.UserMessage)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outboxPublishTimeout)
	defer cancel()

	if err := p.outbox.PublishTurn(pctx, rec); err != nil {
		p.log.Error("outbox publish failed", "thread_id", rec.ThreadID, "turn_id", rec.TurnID, "error", err)
		return cause
	}
	p.log.Warn("completion write failed, turn queued for replay",
		"thread_id", rec.ThreadID, "turn_id", rec.TurnID, "error", cause)
	return nil
}

// FailTurn fires the running -> failed transition once after is done.
func (p *Pipeline) FailTurn(after *background.Task, turnID string) *background.Task {
	return p.launcher.Fire("fail_turn", func(ctx context.Context) error {
		if err := waitFor(ctx, after); err != nil {
			return err
		}
		return p.repo.UpdateTurnStatus(ctx, turnID, TurnFailed)
	}, "turn_id", turnID)
}

func (p *Pipeline) PersistThread(threadID, userID string, title *string) *background.Task {
	return p.launcher.Fire("persist_thread", func(ctx context.Context) error {
		return p.repo.PersistThread(ctx, threadID, userID, title)
	}, "thread_id", threadID)
}

func (p *Pipeline) PersistTurn(threadID, turnID, userMessage string, status TurnStatus) *background.Task {
	return p.launcher.Fire("persist_turn", func(ctx context.Context) error {
		return p.repo.PersistTurn(ctx, threadID, turnID, userMessage, status)
	}, "thread_id", threadID, "turn_id", turnID)
}

func (p *Pipeline) UpdateTurnStatus(turnID string, status TurnStatus) *background.Task {
	return p.launcher.Fire("update_turn_status", func(ctx context.Context) error {
		return p.repo.UpdateTurnStatus(ctx, turnID, status)
	}, "turn_id", turnID, "status", string(status))
}

func (p *Pipeline) PersistMessage(threadID, turnID, role, text string, metadata map[string]any) *background.Task {
	return p.launcher.Fire("persist_message", func(ctx context.Context) error {
		return p.repo.PersistMessage(ctx, threadID, turnID, role, text, metadata)
	}, "thread_id", threadID, "turn_id", turnID, "role", role)
}
