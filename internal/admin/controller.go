// Package admin 房間的控制端
//
// 每個配對組成的房間都需要一個 admin 連線就位，模擬才會建立。
// Controller 在同一程序內扮演這個 admin：認領座位、接收房間事件，
// 並把生命週期事件（開始、結束、關閉）發布給其他服務。
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/notify"
	"github.com/koopa0/system-design/14-game-session/internal/room"
	"github.com/koopa0/system-design/14-game-session/internal/session"
)

// 發布的事件類型
const (
	EventStarted  = "room.started"
	EventRunning  = "room.running"
	EventFinished = "room.finished"
	EventClosed   = "room.closed"
)

// SeatClaimer 房間註冊表中 admin 需要的部分
type SeatClaimer interface {
	ClaimAdminSeat(adminID string, s *session.Session, roomID string) (*room.Room, error)
}

// Publisher 發布房間事件
type Publisher interface {
	Publish(ev notify.Event)
}

// Controller 管理所有同程序 admin
type Controller struct {
	rooms     SeatClaimer
	sessions  *session.Registry
	publisher Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	admins map[string]*adminConn // room id → admin
}

// NewController 創建 admin 控制器
func NewController(rooms SeatClaimer, sessions *session.Registry, publisher Publisher, logger *slog.Logger) *Controller {
	return &Controller{
		rooms:     rooms,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		admins:    make(map[string]*adminConn),
	}
}

// StartAdmin 為新組成的房間認領 admin 座位
func (c *Controller) StartAdmin(ctx context.Context, f matchmaking.Formation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn := &adminConn{
		controller: c,
		roomID:     f.RoomID,
		mode:       f.Mode,
		players:    append([]string(nil), f.Players...),
	}
	s := session.New("admin:"+f.AdminID, conn)
	conn.session = s
	c.sessions.Register(s)

	c.mu.Lock()
	c.admins[f.RoomID] = conn
	c.mu.Unlock()

	if _, err := c.rooms.ClaimAdminSeat(f.AdminID, s, f.RoomID); err != nil {
		c.remove(conn)
		return err
	}

	c.logger.Info("admin 已啟動", "room_id", f.RoomID, "admin_id", f.AdminID)
	return nil
}

// Active 回傳目前的 admin 數
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.admins)
}

// Stop 關閉所有 admin 連線
func (c *Controller) Stop() {
	c.mu.Lock()
	conns := make([]*adminConn, 0, len(c.admins))
	for _, conn := range c.admins {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.session.Close()
	}
}

func (c *Controller) remove(conn *adminConn) {
	c.mu.Lock()
	if c.admins[conn.roomID] == conn {
		delete(c.admins, conn.roomID)
	}
	c.mu.Unlock()
	c.sessions.Unregister(conn.session)
}

// adminConn 同程序的 admin 連線，實作 session.Conn
type adminConn struct {
	controller *Controller
	session    *session.Session
	roomID     string
	mode       string
	players    []string

	closed   atomic.Bool
	finished atomic.Bool
}

type frame struct {
	Type   string `json:"type"`
	Winner string `json:"winner"`
	Team   string `json:"team"`
}

// Send 接收房間事件
func (a *adminConn) Send(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}

	switch f.Type {
	case broadcast.TypeGameStarted:
		a.publish(EventStarted, "")
	case broadcast.TypeGameStart:
		a.publish(EventRunning, "")
	case "game_end":
		winner := f.Winner
		if winner == "" {
			winner = f.Team
		}
		a.finished.Store(true)
		a.publish(EventFinished, winner)
	case broadcast.TypeExportStatus:
		a.controller.logger.Debug("收到完整狀態", "room_id", a.roomID)
	}
	return nil
}

// Close 房間拆除時由註冊表呼叫
func (a *adminConn) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.controller.remove(a)
	a.publish(EventClosed, "")
	a.controller.logger.Info("admin 已關閉", "room_id", a.roomID, "finished", a.finished.Load())
	return nil
}

func (a *adminConn) publish(eventType, winner string) {
	if a.controller.publisher == nil {
		return
	}
	a.controller.publisher.Publish(notify.Event{
		Type:    eventType,
		RoomID:  a.roomID,
		Mode:    a.mode,
		Players: a.players,
		Winner:  winner,
	})
}
