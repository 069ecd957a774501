// Package notify 組隊通知與房間事件的傳輸層
//
// 系統設計問題：
//
//	配對服務組好隊之後，如何讓遊戲服務建立房間？
//
// 核心挑戰：
//  1. 配對與遊戲服務可能在同一個程序，也可能分開部署
//  2. 通知只嘗試一次，失敗要讓整隊回到 inactive
//  3. 多個遊戲服務實例時，一次組隊只能由一個實例處理
//
// 設計方案：
//
//	✅ local：同程序直接呼叫房間註冊表
//	✅ http：POST /api/v1/games，預期 201 Created
//	✅ nats：request/reply，遊戲服務以 Queue Group 訂閱（只有一個實例回覆）
//	✅ 房間事件以 NATS publish 廣播給其他服務
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/room"
)

// RoomCreator 建立房間（由房間註冊表實作）
type RoomCreator interface {
	CreateRoom(id, adminID, mode string, expected []string) (*room.Room, error)
}

// LocalNotifier 同程序的組隊通知
type LocalNotifier struct {
	rooms  RoomCreator
	logger *slog.Logger
}

// NewLocalNotifier 創建同程序通知
func NewLocalNotifier(rooms RoomCreator, logger *slog.Logger) *LocalNotifier {
	return &LocalNotifier{rooms: rooms, logger: logger}
}

// NotifyFormation 直接建立房間
func (n *LocalNotifier) NotifyFormation(ctx context.Context, f matchmaking.Formation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.rooms.CreateRoom(f.RoomID, f.AdminID, f.Mode, f.Players); err != nil {
		return fmt.Errorf("create room %s: %w", f.RoomID, err)
	}
	n.logger.Debug("組隊通知已送達（local）", "room_id", f.RoomID)
	return nil
}

// New 依配置選擇通知方式
//
// nats 模式需要傳入已連線的 *nats.Conn。
func New(cfg *config.Config, rooms RoomCreator, nc *nats.Conn, logger *slog.Logger) (matchmaking.Notifier, error) {
	mm := cfg.Matchmaking
	switch mm.Notify {
	case config.NotifyLocal, "":
		return NewLocalNotifier(rooms, logger), nil
	case config.NotifyHTTP:
		return NewHTTPNotifier(mm.NotifyURL, mm.NotifyTimeout, logger), nil
	case config.NotifyNATS:
		if nc == nil {
			return nil, fmt.Errorf("notify driver %q requires a NATS connection", mm.Notify)
		}
		return NewNATSNotifier(nc, mm.NotifySubject, logger), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", mm.Notify)
	}
}
