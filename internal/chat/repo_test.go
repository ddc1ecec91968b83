package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// steppingClock returns base, base+step, base+2*step, ... on each call.
func steppingClock(base time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := base.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func TestCreateThreadAndTurn_IsAtomic(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	// a turn id that already exists makes the second statement fail
	require.NoError(t, repo.PersistThread(ctx, "th-old", "u1", nil))
	require.NoError(t, repo.PersistTurn(ctx, "th-old", "tu-dup", "hi", TurnRunning))

	err := repo.CreateThreadAndTurn(ctx, ThreadTurn{
		ThreadID:    "th-new",
		UserID:      "u1",
		TurnID:      "tu-dup",
		UserMessage: "hello",
		Title:       "Greeting",
	})
	require.Error(t, err)
	require.Zero(t, countRows(t, db, &Thread{}, "thread_id = ?", "th-new"))

	require.NoError(t, repo.CreateThreadAndTurn(ctx, ThreadTurn{
		ThreadID:    "th-new",
		UserID:      "u1",
		TurnID:      "tu-1",
		UserMessage: "hello",
		Title:       "Greeting",
	}))
	require.EqualValues(t, 1, countRows(t, db, &Thread{}, "thread_id = ?", "th-new"))

	turn, err := repo.GetTurn(ctx, "tu-1")
	require.NoError(t, err)
	require.Equal(t, TurnRunning, turn.Status)
	require.Equal(t, "th-new", turn.ThreadID)
}

func TestCreateThreadAndTurn_UpsertKeepsFirstTitle(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewRepo(db).WithClock(steppingClock(base, time.Minute))
	ctx := context.Background()

	require.NoError(t, repo.CreateThreadAndTurn(ctx, ThreadTurn{
		ThreadID: "th-1", UserID: "u1", TurnID: "tu-1", UserMessage: "first", Title: "First title",
	}))
	require.NoError(t, repo.CreateThreadAndTurn(ctx, ThreadTurn{
		ThreadID: "th-1", UserID: "u1", TurnID: "tu-2", UserMessage: "second", Title: "Second title",
	}))

	require.EqualValues(t, 1, countRows(t, db, &Thread{}, "thread_id = ?", "th-1"))
	require.EqualValues(t, 2, countRows(t, db, &Turn{}, "thread_id = ?", "th-1"))

	th, err := repo.GetThread(ctx, "th-1")
	require.NoError(t, err)
	require.NotNil(t, th.Title)
	require.Equal(t, "First title", *th.Title)
	require.True(t, th.UpdatedAt.After(th.CreatedAt), "updated_at should advance on conflict")
}

func TestCompleteTurn_WritesEverythingOrNothing(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewRepo(db).WithClock(steppingClock(base, time.Minute))
	ctx := context.Background()

	require.NoError(t, repo.CreateThreadAndTurn(ctx, ThreadTurn{
		ThreadID: "th-1", UserID: "u1", TurnID: "tu-1", UserMessage: "hello",
	}))
	before, err := repo.GetThread(ctx, "th-1")
	require.NoError(t, err)

	require.NoError(t, repo.CompleteTurn(ctx, TurnCompletion{
		ThreadID:         "th-1",
		TurnID:           "tu-1",
		UserMessage:      "hello",
		AssistantMessage: "hi there",
		Metadata:         map[string]any{"provider": "fake", "chunks": 2},
	}))

	msgs, total, err := repo.ListMessages(ctx, "th-1", 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Message)
	require.Nil(t, msgs[0].Metadata)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.Equal(t, "hi there", msgs[1].Message)
	require.Equal(t, msgs[0].TurnID, msgs[1].TurnID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Metadata, &meta))
	require.Equal(t, "fake", meta["provider"])

	turn, err := repo.GetTurn(ctx, "tu-1")
	require.NoError(t, err)
	require.Equal(t, TurnCompleted, turn.Status)

	after, err := repo.GetThread(ctx, "th-1")
	require.NoError(t, err)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))

	// a second completion finds the turn no longer running and rolls back its inserts
	err = repo.CompleteTurn(ctx, TurnCompletion{
		ThreadID: "th-1", TurnID: "tu-1", UserMessage: "hello", AssistantMessage: "again",
	})
	require.ErrorIs(t, err, ErrTurnNotRunning)
	require.EqualValues(t, 2, countRows(t, db, &Message{}, "thread_id = ?", "th-1"))

	err = repo.CompleteTurn(ctx, TurnCompletion{
		ThreadID: "th-1", TurnID: "missing", UserMessage: "x", AssistantMessage: "y",
	})
	require.ErrorIs(t, err, ErrTurnNotRunning)
	require.Zero(t, countRows(t, db, &Message{}, "turn_id = ?", "missing"))
}

func TestUpdateTurnStatus_OnlyFromRunning(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.PersistTurn(ctx, "th-1", "tu-1", "hello", ""))
	require.NoError(t, repo.UpdateTurnStatus(ctx, "tu-1", TurnFailed))
	require.ErrorIs(t, repo.UpdateTurnStatus(ctx, "tu-1", TurnCompleted), ErrTurnNotRunning)

	turn, err := repo.GetTurn(ctx, "tu-1")
	require.NoError(t, err)
	require.Equal(t, TurnFailed, turn.Status)
}

func TestReplayTurn_RebuildsMissingRows(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	rec := TurnRecord{
		ThreadID:         "th-1",
		UserID:           "u1",
		TurnID:           "tu-1",
		Title:            "Replayed",
		UserMessage:      "hello",
		AssistantMessage: "hi",
	}
	require.NoError(t, repo.ReplayTurn(ctx, rec))

	th, err := repo.GetOwnedThread(ctx, "u1", "th-1")
	require.NoError(t, err)
	require.Equal(t, "Replayed", *th.Title)

	turn, err := repo.GetTurn(ctx, "tu-1")
	require.NoError(t, err)
	require.Equal(t, TurnCompleted, turn.Status)
	require.EqualValues(t, 2, countRows(t, db, &Message{}, "turn_id = ?", "tu-1"))

	require.ErrorIs(t, repo.ReplayTurn(ctx, rec), ErrTurnNotRunning)
	require.EqualValues(t, 2, countRows(t, db, &Message{}, "turn_id = ?", "tu-1"))
}

func TestReapStaleTurns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	oldRepo := NewRepo(db).WithClock(func() time.Time { return old })
	require.NoError(t, oldRepo.PersistTurn(ctx, "th-1", "tu-stale", "a", TurnRunning))
	require.NoError(t, oldRepo.PersistTurn(ctx, "th-1", "tu-done", "b", TurnCompleted))

	now := old.Add(time.Hour)
	repo := NewRepo(db).WithClock(func() time.Time { return now })
	require.NoError(t, repo.PersistTurn(ctx, "th-1", "tu-fresh", "c", TurnRunning))

	n, err := repo.ReapStaleTurns(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	for id, want := range map[string]TurnStatus{
		"tu-stale": TurnFailed,
		"tu-done":  TurnCompleted,
		"tu-fresh": TurnRunning,
	} {
		turn, err := repo.GetTurn(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, turn.Status, id)
	}
}

func TestThreadListingRenameAndDelete(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewRepo(db).WithClock(steppingClock(base, time.Minute))
	ctx := context.Background()

	for _, id := range []string{"th-a", "th-b", "th-c"} {
		require.NoError(t, repo.PersistThread(ctx, id, "u1", nil))
	}
	require.NoError(t, repo.PersistThread(ctx, "th-other", "u2", nil))

	threads, total, err := repo.ListThreads(ctx, "u1", 0, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, threads, 2)
	require.Equal(t, "th-c", threads[0].ThreadID)

	require.NoError(t, repo.RenameThread(ctx, "u1", "th-a", "Renamed"))
	th, err := repo.GetThread(ctx, "th-a")
	require.NoError(t, err)
	require.Equal(t, "Renamed", *th.Title)
	require.ErrorIs(t, repo.RenameThread(ctx, "u2", "th-a", "Stolen"), ErrThreadNotFound)

	require.NoError(t, repo.SoftDeleteThread(ctx, "u1", "th-b"))
	require.ErrorIs(t, repo.SoftDeleteThread(ctx, "u1", "th-b"), ErrThreadNotFound)

	_, total, err = repo.ListThreads(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	_, err = repo.GetOwnedThread(ctx, "u1", "th-b")
	require.ErrorIs(t, err, ErrThreadNotFound)
	_, err = repo.GetOwnedThread(ctx, "u1", "th-other")
	require.ErrorIs(t, err, ErrThreadNotFound)
}
