// Package session 管理所有持久連線
//
// 系統設計問題：
//
//	如何讓房間、廣播、配對三個元件共用同一份「誰在線上、在哪個房間」的資訊？
//
// 核心挑戰：
//  1. 連線隨時可能斷開，發送端必須能辨識已關閉的連線
//  2. 同一個帳號重新連線時，舊連線要被取代
//  3. 房間廣播需要快速找到房間內的所有連線
//
// 設計方案：
//
//	✅ Conn 介面 - 傳輸層（websocket、測試用記錄器）只需實作 Send/Close
//	✅ closed 旗標 - atomic CAS，Close 只執行一次
//	✅ 雙索引 - sessionID → Session、roomID → sessions
package session

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"

	"github.com/google/uuid"
)

// Role 連線在房間中的角色
type Role string

const (
	RoleNone      Role = ""
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
	RoleAdmin     Role = "admin"
)

// Conn 傳輸層連線
//
// Send 不可阻塞：實作端應使用緩衝區，滿了回傳錯誤。
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Session 單一持久連線
type Session struct {
	ID       string
	Identity string

	conn   Conn
	closed atomic.Bool

	mu     sync.RWMutex
	role   Role
	roomID string
}

// New 創建連線，identity 為已驗證的玩家名稱（admin 連線為 admin id）
func New(identity string, conn Conn) *Session {
	return &Session{
		ID:       uuid.New().String(),
		Identity: identity,
		conn:     conn,
	}
}

// Send 發送訊息，已關閉的連線回傳 DELIVERY_FAILED
func (s *Session) Send(data []byte) error {
	if s.closed.Load() {
		return apperrors.ErrSessionClosed
	}
	return s.conn.Send(data)
}

// Close 關閉連線（冪等）
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// Closed 是否已關閉
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Role 回傳目前角色
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// RoomID 回傳目前所在房間，未加入房間時為空字串
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) bind(roomID string, role Role) {
	s.mu.Lock()
	s.roomID = roomID
	s.role = role
	s.mu.Unlock()
}
