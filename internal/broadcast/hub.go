// Package broadcast 將事件扇出到房間內的所有連線
//
// 單一連線發送失敗只記錄日誌，不影響其他收件者，也不向呼叫端拋錯；
// 呼叫端從回傳的 Delivery 計數得知結果。
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/koopa0/system-design/14-game-session/internal/session"
)

// Delivery 單次廣播的投遞結果
type Delivery struct {
	Delivered int
	Failed    int
}

// Hub 廣播中心
type Hub struct {
	sessions *session.Registry
	logger   *slog.Logger
}

// NewHub 創建廣播中心
func NewHub(sessions *session.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		sessions: sessions,
		logger:   logger,
	}
}

// Broadcast 發送事件給房間內所有未關閉的連線
//
// 事件只序列化一次。
func (h *Hub) Broadcast(roomID string, event any) Delivery {
	data, ok := h.encode(event)
	if !ok {
		return Delivery{}
	}
	return h.fanOut(h.sessions.InRoom(roomID), data, nil)
}

// BroadcastAll 發送事件給所有連線，except 中的連線除外
func (h *Hub) BroadcastAll(event any, except ...*session.Session) Delivery {
	data, ok := h.encode(event)
	if !ok {
		return Delivery{}
	}
	return h.fanOut(h.sessions.All(), data, except)
}

// BroadcastTo 發送事件給指定連線
func (h *Hub) BroadcastTo(targets []*session.Session, event any) Delivery {
	data, ok := h.encode(event)
	if !ok {
		return Delivery{}
	}
	return h.fanOut(targets, data, nil)
}

// Send 發送事件給單一連線
func (h *Hub) Send(s *session.Session, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Send(data)
}

func (h *Hub) encode(event any) ([]byte, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失敗", "error", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) fanOut(targets []*session.Session, data []byte, except []*session.Session) Delivery {
	var d Delivery

outer:
	for _, s := range targets {
		for _, skip := range except {
			if s == skip {
				continue outer
			}
		}
		if s.Closed() {
			continue
		}
		if err := s.Send(data); err != nil {
			d.Failed++
			h.logger.Warn("投遞失敗",
				"session_id", s.ID,
				"identity", s.Identity,
				"room_id", s.RoomID(),
				"error", err)
			continue
		}
		d.Delivered++
	}
	return d
}
