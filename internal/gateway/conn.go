package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

const (
	// writeWait 單次寫入的期限
	writeWait = 10 * time.Second
	// pongWait 多久沒收到任何訊息（含 Pong）就視為斷線
	pongWait = 60 * time.Second
	// pingPeriod 必須小於 pongWait
	pingPeriod = 54 * time.Second
	// maxMessageSize 客戶端單一訊息上限
	maxMessageSize = 4096
	// sendBufferSize 每個連線的發送緩衝
	sendBufferSize = 256
)

// Conn websocket 連線，實作 session.Conn
//
// 心跳機制：
//
//	writePump 每 54 秒送 Ping → 客戶端回 Pong → readPump 延長 60 秒期限
//	54 秒未收到 Pong → 60 秒後讀取逾時 → 關閉連線
//
// Send 只寫入緩衝 channel，不阻塞呼叫端（房間廣播、模擬 tick）。
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	lastPing time.Time
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		logger:   logger,
		lastPing: time.Now(),
	}
}

// Send 放入發送緩衝，緩衝區滿時回傳 DELIVERY_FAILED
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrSessionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return apperrors.ErrSendBufferFull
	}
}

// Close 關閉發送緩衝（冪等）
//
// writePump 會先送完緩衝中的訊息，再送 close frame 並關閉底層連線。
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// LastPing 最後一次收到 Pong 的時間
func (c *Conn) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// readPump 讀取客戶端訊息直到連線中斷
func (c *Conn) readPump(handle func(message []byte)) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			handle(message)
		}
	}
}

// writePump 將緩衝中的訊息寫到客戶端，並定期送 Ping
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 連線已關閉：嘗試送出 close frame，忽略錯誤
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("發送訊息失敗", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
