package store

import (
	"context"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/session"
)

// MemoryStore 記憶體實作，同時滿足 StatusStore 與 HistoryStore
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]session.Status
	history  map[string][]HistoryEntry
	results  map[string]GameResult
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[string]session.Status),
		history:  make(map[string][]HistoryEntry),
		results:  make(map[string]GameResult),
	}
}

// SetStatus 設定玩家狀態；inactive 直接刪除
func (m *MemoryStore) SetStatus(_ context.Context, username string, status session.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == session.StatusInactive {
		delete(m.statuses, username)
		return nil
	}
	m.statuses[username] = status
	return nil
}

// Status 查詢玩家狀態，未知玩家為 inactive
func (m *MemoryStore) Status(_ context.Context, username string) (session.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if status, ok := m.statuses[username]; ok {
		return status, nil
	}
	return session.StatusInactive, nil
}

// AppendHistory 記錄玩家參與的房間（同一房間只記一次）
func (m *MemoryStore) AppendHistory(_ context.Context, username, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.history[username] {
		if e.RoomID == roomID {
			return nil
		}
	}
	m.history[username] = append(m.history[username], HistoryEntry{RoomID: roomID, CreatedAt: time.Now()})
	return nil
}

// History 回傳最近的 limit 筆紀錄（新到舊）
func (m *MemoryStore) History(_ context.Context, username string, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[username]
	out := make([]HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// SaveResult 儲存遊戲結果（同一房間只保留第一筆）
func (m *MemoryStore) SaveResult(_ context.Context, result GameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[result.RoomID]; !exists {
		m.results[result.RoomID] = result
	}
	return nil
}

// Result 查詢遊戲結果
func (m *MemoryStore) Result(roomID string) (GameResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[roomID]
	return r, ok
}
