// Package sim 提供每個房間獨立的權威模擬迴圈
//
// 系統設計問題：
//
//	多個房間同時進行遊戲時，如何保證每個房間的狀態只被一個 goroutine 推進，
//	且第 N 個 tick 的結果一定在第 N+1 個 tick 開始計算前送出？
//
// 核心挑戰：
//  1. 輸入亂序：同一 tick 內同一玩家可能送出多個輸入
//  2. 開始只能發生一次：所有玩家 ready 的判斷可能同時成立
//  3. 遊戲邏輯出錯：單一房間出錯不能影響其他房間
//
// 設計方案：
//
//	✅ 輸入緩衝 - (player, control) 為 key，後寫覆蓋前寫
//	✅ atomic CAS - Start 只會啟動一個迴圈 goroutine
//	✅ 同步 hook - 事件扇出完成後才進入下一個 tick，不做 pipeline
//	✅ panic recover - 轉為 SIMULATION_FAULT，由房間決定中止
package sim

import (
	"time"
)

// Input 單一玩家輸入
//
// Control 決定覆蓋粒度：同一 tick 內 (Player, Control) 相同的輸入只保留最後一筆。
type Input struct {
	Player  string
	Control string
	Value   string
}

// Result 遊戲結束時的結果
type Result struct {
	Winner string         `json:"winner"`
	Reason string         `json:"reason"`
	Scores map[string]int `json:"scores"`
}

// Elimination 在遊戲中被淘汰的玩家
type Elimination struct {
	Player string
	Score  int
}

// Outcome 單一 tick 的輸出
type Outcome struct {
	// Events 依序廣播給房間
	Events []any
	// Final 為 true 時迴圈結束，Events 中應包含終局事件
	Final  bool
	Result *Result
	// Eliminated 本 tick 被淘汰、應離開房間的玩家
	Eliminated []Elimination
}

// Game 可插拔的遊戲規則
//
// 所有方法都由 Engine 在持有鎖時呼叫，實作端不需要自行同步。
type Game interface {
	// Apply 套用單一輸入，無效輸入回傳錯誤（會被丟棄並記錄）
	Apply(in Input) error
	// Step 推進 dt 的模擬時間
	Step(dt time.Duration) (Outcome, error)
	// Snapshot 回傳可序列化的完整狀態（開局、加入、admin 匯出）
	Snapshot() any
}

// Joiner 允許遊戲進行中加入或移除玩家
type Joiner interface {
	AddPlayer(name string) error
	RemovePlayer(name string)
}

// Factory 依模式建立遊戲
type Factory func(mode string, players []string) (Game, error)
