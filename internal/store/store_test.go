package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
	"github.com/koopa0/system-design/14-game-session/internal/store"
	"github.com/koopa0/system-design/14-game-session/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestMemoryStore_Status 測試記憶體狀態儲存
func TestMemoryStore_Status(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()

	status, err := m.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInactive, status)

	require.NoError(t, m.SetStatus(ctx, "alice", session.StatusInGame))
	status, err = m.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInGame, status)

	require.NoError(t, m.SetStatus(ctx, "alice", session.StatusInactive))
	status, err = m.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInactive, status)
}

// TestMemoryStore_History 歷史新到舊、同一房間只記一次
func TestMemoryStore_History(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()

	for _, id := range []string{"r1", "r2", "r2", "r3"} {
		require.NoError(t, m.AppendHistory(ctx, "alice", id))
	}

	entries, err := m.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "r3", entries[0].RoomID)
	assert.Equal(t, "r1", entries[2].RoomID)

	entries, err = m.History(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, m.SaveResult(ctx, store.GameResult{RoomID: "r1", Winner: "left"}))
	require.NoError(t, m.SaveResult(ctx, store.GameResult{RoomID: "r1", Winner: "right"}))
	r, ok := m.Result("r1")
	require.True(t, ok)
	assert.Equal(t, "left", r.Winner)
}

// blockingStore 寫入會阻塞直到 release 關閉
type blockingStore struct {
	*store.MemoryStore
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) SetStatus(ctx context.Context, username string, status session.Status) error {
	<-b.release
	return b.MemoryStore.SetStatus(ctx, username, status)
}

func (b *blockingStore) unblock() {
	b.once.Do(func() { close(b.release) })
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SetStatus(context.Context, string, session.Status) error {
	return errors.New("backend down")
}

// TestRecorder_WritesInOrder 關閉時寫完所有緩衝
func TestRecorder_WritesInOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	rec := store.NewRecorder(mem, mem, 16, testLogger())

	rec.RecordStatus("alice", session.StatusInQueue)
	rec.RecordStatus("alice", session.StatusPending)
	rec.AppendHistory("alice", "room-1")
	rec.RecordStatus("alice", session.StatusInGame)
	rec.RecordResult("room-1", "PONG_CLASSIC", []string{"alice", "bob"}, sim.Result{
		Winner: "left",
		Reason: "The left side wins !",
		Scores: map[string]int{"left": 5, "right": 2},
	})
	rec.Close()

	status, err := rec.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInGame, status)

	history, err := rec.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "room-1", history[0].RoomID)

	result, ok := mem.Result("room-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, result.Players)
	assert.Equal(t, 5, result.Scores["left"])

	assert.Equal(t, int64(0), rec.Stats()["dropped"])
}

// TestRecorder_DropsWhenFull 緩衝區滿時丟棄而不阻塞
func TestRecorder_DropsWhenFull(t *testing.T) {
	mem := store.NewMemoryStore()
	blocked := &blockingStore{MemoryStore: mem, release: make(chan struct{})}
	rec := store.NewRecorder(blocked, mem, 2, testLogger())
	defer func() {
		blocked.unblock()
		rec.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			rec.RecordStatus("alice", session.StatusInQueue)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordStatus blocked")
	}

	// worker 最多持有 1 筆，緩衝區 2 筆
	assert.GreaterOrEqual(t, rec.Stats()["dropped"], int64(17))
}

// TestRecorder_Failures 寫入失敗只計數
func TestRecorder_Failures(t *testing.T) {
	mem := store.NewMemoryStore()
	rec := store.NewRecorder(failingStore{mem}, mem, 4, testLogger())

	rec.RecordStatus("alice", session.StatusInGame)
	rec.RecordStatus("bob", session.StatusInGame)
	rec.Close()

	assert.Equal(t, int64(2), rec.Stats()["failed"])

	rec.RecordStatus("carol", session.StatusInGame)
	assert.Equal(t, int64(1), rec.Stats()["dropped"], "records after close are dropped")
}

// TestRedisStatusStore 測試 Redis 狀態儲存
func TestRedisStatusStore(t *testing.T) {
	client := testutils.SetupRedis(t)
	ctx := context.Background()
	s := store.NewRedisStatusStore(client)

	status, err := s.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInactive, status)

	require.NoError(t, s.SetStatus(ctx, "alice", session.StatusPending))
	status, err = s.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, status)

	fields, err := client.HGetAll(ctx, "player:alice").Result()
	require.NoError(t, err)
	assert.Equal(t, "pending", fields["status"])
	assert.NotEmpty(t, fields["updated_at"])

	ttl, err := client.TTL(ctx, "player:alice").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.SetStatus(ctx, "alice", session.StatusInactive))
	exists, err := client.Exists(ctx, "player:alice").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

// TestPostgresHistoryStore 測試 PostgreSQL 歷史儲存
func TestPostgresHistoryStore(t *testing.T) {
	pool := testutils.SetupPostgres(t)
	ctx := context.Background()
	s := store.NewPostgresHistoryStore(pool)

	t.Run("history", func(t *testing.T) {
		testutils.TruncateTables(t, pool, "player_history")

		require.NoError(t, s.AppendHistory(ctx, "alice", "room-1"))
		require.NoError(t, s.AppendHistory(ctx, "alice", "room-2"))
		require.NoError(t, s.AppendHistory(ctx, "alice", "room-2"))

		entries, err := s.History(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "room-2", entries[0].RoomID)

		entries, err = s.History(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("results", func(t *testing.T) {
		testutils.TruncateTables(t, pool, "game_results")

		want := store.GameResult{
			RoomID:  "room-1",
			Mode:    "PONG_CLASSIC",
			Players: []string{"alice", "bob"},
			Winner:  "left",
			Reason:  "The left side wins !",
			Scores:  map[string]int{"left": 5, "right": 3},
		}
		require.NoError(t, s.SaveResult(ctx, want))
		require.NoError(t, s.SaveResult(ctx, store.GameResult{RoomID: "room-1", Mode: "PONG_CLASSIC", Winner: "right"}))

		got, err := s.Result(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, want.Players, got.Players)
		assert.Equal(t, "left", got.Winner)
		assert.Equal(t, want.Scores, got.Scores)
	})

	t.Run("recorder end to end", func(t *testing.T) {
		testutils.TruncateTables(t, pool, "player_history", "game_results")

		rec := store.NewRecorder(store.NewMemoryStore(), s, 16, testLogger())
		rec.AppendHistory("carol", "room-9")
		rec.RecordResult("room-9", "PONG_DUO", []string{"carol", "dave", "erin", "frank"}, sim.Result{Winner: "right"})
		rec.Close()

		entries, err := s.History(ctx, "carol", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		got, err := s.Result(ctx, "room-9")
		require.NoError(t, err)
		assert.Equal(t, "right", got.Winner)
		assert.Len(t, got.Players, 4)
	})
}
