// Package store 玩家狀態與對戰紀錄的持久化
//
// 系統設計問題：
//
//	房間與配對的狀態變化非常頻繁，持久化不能拖慢 tick 迴圈與配對迴圈。
//
// 核心挑戰：
//  1. 寫入延遲：Redis < 1ms，PostgreSQL 10-50ms
//  2. 呼叫端可能持有鎖或正在廣播，不能阻塞
//  3. 儲存層故障不能讓遊戲中斷
//
// 設計方案：
//
//	✅ Redis Hash：玩家目前狀態（player:{username}），讀多寫多
//	✅ PostgreSQL：對戰歷史與結果，append-only
//	✅ 非同步 Recorder：有界緩衝 channel + 單一 worker，滿了直接丟棄並計數
//	✅ MemoryStore：未啟用 Redis/PostgreSQL 時的預設實作，也供測試使用
package store

import (
	"context"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/session"
)

// StatusStore 玩家目前狀態
type StatusStore interface {
	SetStatus(ctx context.Context, username string, status session.Status) error
	Status(ctx context.Context, username string) (session.Status, error)
}

// HistoryStore 對戰歷史與結果
type HistoryStore interface {
	AppendHistory(ctx context.Context, username, roomID string) error
	History(ctx context.Context, username string, limit int) ([]HistoryEntry, error)
	SaveResult(ctx context.Context, result GameResult) error
}

// HistoryEntry 玩家參與過的房間
type HistoryEntry struct {
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GameResult 一場遊戲的最終結果
type GameResult struct {
	RoomID     string         `json:"room_id"`
	Mode       string         `json:"mode"`
	Players    []string       `json:"players"`
	Winner     string         `json:"winner"`
	Reason     string         `json:"reason"`
	Scores     map[string]int `json:"scores"`
	FinishedAt time.Time      `json:"finished_at"`
}
