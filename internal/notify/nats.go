package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// Connect 連接 NATS Server
//
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("game-session"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return nc, nil
}

// formationReply 遊戲服務對組隊請求的回覆
type formationReply struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NATSNotifier 以 request/reply 通知遊戲服務
//
// subject 格式：<prefix>.<mode>，例如 game.formation.PONG_CLASSIC
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier 創建 NATS 通知
func NewNATSNotifier(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{nc: nc, prefix: prefix, logger: logger}
}

// NotifyFormation 發送組隊結果並等待回覆
func (n *NATSNotifier) NotifyFormation(ctx context.Context, f matchmaking.Formation) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal formation: %w", err)
	}

	subject := n.prefix + "." + f.Mode
	msg, err := n.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "formation request failed")
	}

	var reply formationReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFormationFailed, "invalid formation reply")
	}
	if reply.Status != http.StatusCreated {
		return apperrors.ErrFormationFailed.WithDetails(fmt.Sprintf("status %d: %s", reply.Status, reply.Error))
	}

	n.logger.Debug("組隊通知已送達（nats）", "room_id", f.RoomID, "subject", subject)
	return nil
}

// Responder 遊戲服務端：訂閱組隊請求並建立房間
//
// 以 Queue Group 訂閱，多個遊戲服務實例之間只有一個會處理同一則請求。
type Responder struct {
	nc     *nats.Conn
	rooms  RoomCreator
	logger *slog.Logger
	sub    *nats.Subscription
}

// ResponderQueueGroup 遊戲服務實例共用的 Queue Group
const ResponderQueueGroup = "game-hosts"

// NewResponder 創建組隊請求處理者
func NewResponder(nc *nats.Conn, rooms RoomCreator, logger *slog.Logger) *Responder {
	return &Responder{nc: nc, rooms: rooms, logger: logger}
}

// Start 開始訂閱 <prefix>.*
func (r *Responder) Start(prefix string) error {
	sub, err := r.nc.QueueSubscribe(prefix+".*", ResponderQueueGroup, r.handle)
	if err != nil {
		return fmt.Errorf("訂閱組隊請求失敗: %w", err)
	}
	r.sub = sub
	r.logger.Info("開始處理組隊請求", "subject", prefix+".*", "queue", ResponderQueueGroup)
	return nil
}

// Stop 取消訂閱（處理中的請求會先完成）
func (r *Responder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

func (r *Responder) handle(msg *nats.Msg) {
	var f matchmaking.Formation
	reply := formationReply{Status: http.StatusCreated}

	if err := json.Unmarshal(msg.Data, &f); err != nil {
		reply = formationReply{Status: http.StatusBadRequest, Error: "invalid formation payload"}
	} else if _, err := r.rooms.CreateRoom(f.RoomID, f.AdminID, f.Mode, f.Players); err != nil {
		reply = formationReply{Status: http.StatusBadRequest, Error: err.Error()}
		r.logger.Warn("建立房間失敗", "room_id", f.RoomID, "mode", f.Mode, "error", err)
	}

	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("回覆組隊請求失敗", "room_id", f.RoomID, "error", err)
	}
}

// Event 房間生命週期事件
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	Mode      string    `json:"mode,omitempty"`
	Players   []string  `json:"players,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher 將房間事件發布到 <prefix>.<type>
type EventPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewEventPublisher 創建事件發布者；nc 為 nil 時只記錄日誌
func NewEventPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Publish 發布事件（fire-and-forget）
func (p *EventPublisher) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if p.nc == nil {
		p.logger.Debug("房間事件", "type", ev.Type, "room_id", ev.RoomID)
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("序列化事件失敗", "type", ev.Type, "error", err)
		return
	}
	if err := p.nc.Publish(p.prefix+"."+ev.Type, data); err != nil {
		p.logger.Warn("發布事件失敗", "type", ev.Type, "room_id", ev.RoomID, "error", err)
	}
}
