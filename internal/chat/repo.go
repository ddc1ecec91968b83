package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrTurnNotRunning = errors.New("turn not found or not running")
)

// ThreadTurn is the input of the thread+turn creation write.
type ThreadTurn struct {
	ThreadID    string
	UserID      string
	TurnID      string
	UserMessage string
	Title       string
}

// TurnCompletion is the input of the turn completion write.
type TurnCompletion struct {
	ThreadID         string
	TurnID           string
	UserMessage      string
	AssistantMessage string
	Metadata         map[string]any
}

// TurnRecord carries everything needed to rebuild a finished turn from scratch.
// It is what the outbox publishes and the worker replays.
type TurnRecord struct {
	ThreadID         string         `json:"thread_id"`
	UserID           string         `json:"user_id"`
	TurnID           string         `json:"turn_id"`
	Title            string         `json:"title,omitempty"`
	UserMessage      string         `json:"user_message"`
	AssistantMessage string         `json:"assistant_message"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the timestamp source (tests).
func (r *Repo) WithClock(now func() time.Time) *Repo {
	return &Repo{db: r.db, now: now}
}

func upsertThread(tx *gorm.DB, threadID, userID string, title *string, now time.Time) error {
	t := Thread{
		ThreadID:  threadID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// on conflict only the timestamp moves; the first title wins
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.Assignments(map[string]any{"updated_at": now}),
	}).Create(&t).Error
}

func newTurn(threadID, turnID, userMessage string, status TurnStatus, now time.Time) *Turn {
	return &Turn{
		TurnID:      turnID,
		ThreadID:    threadID,
		UserMessage: userMessage,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newMessage(threadID, turnID, role, text string, metadata map[string]any, now time.Time) (*Message, error) {
	var meta datatypes.JSON
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta = datatypes.JSON(b)
	}
	return &Message{
		MessageID: uuid.NewString(),
		ThreadID:  threadID,
		TurnID:    turnID,
		Role:      role,
		Message:   text,
		Metadata:  meta,
		CreatedAt: now,
	}, nil
}

func titlePtr(title string) *string {
	if title == "" {
		return nil
	}
	return &title
}

// CreateThreadAndTurn upserts the thread and inserts the turn as running, in one transaction.
func (r *Repo) CreateThreadAndTurn(ctx context.Context, in ThreadTurn) error {
	now := r.now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertThread(tx, in.ThreadID, in.UserID, titlePtr(in.Title), now); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}
		if err := tx.Create(newTurn(in.ThreadID, in.TurnID, in.UserMessage, TurnRunning, now)).Error; err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

func completeTurn(tx *gorm.DB, in TurnCompletion, now time.Time) error {
	userMsg, err := newMessage(in.ThreadID, in.TurnID, RoleUser, in.UserMessage, nil, now)
	if err != nil {
		return err
	}
	assistantMsg, err := newMessage(in.ThreadID, in.TurnID, RoleAssistant, in.AssistantMessage, in.Metadata, now)
	if err != nil {
		return err
	}
	if err := tx.Create(userMsg).Error; err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if err := tx.Create(assistantMsg).Error; err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	res := tx.Model(&Turn{}).
		Where("turn_id = ? AND status = ?", in.TurnID, TurnRunning).
		Updates(map[string]any{"status": TurnCompleted, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("complete turn: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTurnNotRunning
	}

	if err := tx.Model(&Thread{}).
		Where("thread_id = ?", in.ThreadID).
		Update("updated_at", now).Error; err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// CompleteTurn writes both messages, marks the turn completed and bumps the
// thread, in one transaction. A turn that is missing or no longer running
// rolls everything back with ErrTurnNotRunning.
func (r *Repo) CompleteTurn(ctx context.Context, in TurnCompletion) error {
	now := r.now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return completeTurn(tx, in, now)
	})
}

// ReplayTurn rebuilds a finished turn whose original writes may or may not have landed.
func (r *Repo) ReplayTurn(ctx context.Context, rec TurnRecord) error {
	now := r.now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertThread(tx, rec.ThreadID, rec.UserID, titlePtr(rec.Title), now); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(newTurn(rec.ThreadID, rec.TurnID, rec.UserMessage, TurnRunning, now)).Error; err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return completeTurn(tx, TurnCompletion{
			ThreadID:         rec.ThreadID,
			TurnID:           rec.TurnID,
			UserMessage:      rec.UserMessage,
			AssistantMessage: rec.AssistantMessage,
			Metadata:         rec.Metadata,
		}, now)
	})
}

func (r *Repo) PersistThread(ctx context.Context, threadID, userID string, title *string) error {
	return upsertThread(r.db.WithContext(ctx), threadID, userID, title, r.now())
}

func (r *Repo) PersistTurn(ctx context.Context, threadID, turnID, userMessage string, status TurnStatus) error {
	if status == "" {
		status = TurnRunning
	}
	return r.db.WithContext(ctx).Create(newTurn(threadID, turnID, userMessage, status, r.now())).Error
}

// UpdateTurnStatus moves a running turn to a terminal status.
func (r *Repo) UpdateTurnStatus(ctx context.Context, turnID string, status TurnStatus) error {
	res := r.db.WithContext(ctx).Model(&Turn{}).
		Where("turn_id = ? AND status = ?", turnID, TurnRunning).
		Updates(map[string]any{"status": status, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTurnNotRunning
	}
	return nil
}

func (r *Repo) PersistMessage(ctx context.Context, threadID, turnID, role, text string, metadata map[string]any) error {
	m, err := newMessage(threadID, turnID, role, text, metadata, r.now())
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// ReapStaleTurns fails every turn that has been running for longer than olderThan.
func (r *Repo) ReapStaleTurns(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&Turn{}).
		Where("status = ? AND updated_at < ?", TurnRunning, now.Add(-olderThan)).
		Updates(map[string]any{"status": TurnFailed, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *Repo) GetTurn(ctx context.Context, turnID string) (*Turn, error) {
	var t Turn
	if err := r.db.WithContext(ctx).First(&t, "turn_id = ?", turnID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThread returns the thread even when it is soft-deleted.
func (r *Repo) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var t Thread
	if err := r.db.WithContext(ctx).First(&t, "thread_id = ?", threadID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOwnedThread hides threads that are deleted or belong to someone else.
func (r *Repo) GetOwnedThread(ctx context.Context, userID, threadID string) (*Thread, error) {
	t, err := r.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	if t.UserID != userID || t.IsDeleted {
		return nil, ErrThreadNotFound
	}
	return t, nil
}

// ListThreads returns the user's live threads, most recently updated first.
func (r *Repo) ListThreads(ctx context.Context, userID string, offset, limit int) ([]Thread, int64, error) {
	q := r.db.WithContext(ctx).Model(&Thread{}).
		Where("user_id = ? AND is_deleted = ?", userID, false)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var threads []Thread
	if err := q.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&threads).Error; err != nil {
		return nil, 0, err
	}
	return threads, total, nil
}

// ListMessages returns a page of the thread's messages in conversation order.
// Both messages of a turn share a timestamp; "user" sorts before "assistant" with role DESC.
func (r *Repo) ListMessages(ctx context.Context, threadID string, offset, limit int) ([]Message, int64, error) {
	q := r.db.WithContext(ctx).Model(&Message{}).Where("thread_id = ?", threadID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []Message
	if err := q.Order("created_at ASC").Order("role DESC").
		Offset(offset).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// ListRecentMessagesDesc returns the most recent messages (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").Order("role ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) RenameThread(ctx context.Context, userID, threadID, title string) error {
	res := r.db.WithContext(ctx).Model(&Thread{}).
		Where("thread_id = ? AND user_id = ? AND is_deleted = ?", threadID, userID, false).
		Updates(map[string]any{"thread_title": title, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (r *Repo) SoftDeleteThread(ctx context.Context, userID, threadID string) error {
	res := r.db.WithContext(ctx).Model(&Thread{}).
		Where("thread_id = ? AND user_id = ? AND is_deleted = ?", threadID, userID, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrThreadNotFound
	}
	return nil
}
