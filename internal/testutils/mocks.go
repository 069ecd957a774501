package testutils

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMockSendFailed 注入的發送錯誤
var ErrMockSendFailed = errors.New("mock send failed")

// RecordingConn 記錄所有發送內容的連線，實作 session.Conn
type RecordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool

	// 錯誤注入
	FailSend atomic.Bool

	CloseCalls atomic.Int32
}

// NewRecordingConn 創建記錄連線
func NewRecordingConn() *RecordingConn {
	return &RecordingConn{}
}

// Send 記錄一則訊息
func (c *RecordingConn) Send(data []byte) error {
	if c.FailSend.Load() {
		return ErrMockSendFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock conn closed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.frames = append(c.frames, frame)
	return nil
}

// Close 標記為已關閉
func (c *RecordingConn) Close() error {
	c.CloseCalls.Add(1)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Closed 是否已關閉
func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames 回傳已發送訊息的副本
func (c *RecordingConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events 將已發送訊息解碼為 map
func (c *RecordingConn) Events() []map[string]any {
	frames := c.Frames()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types 回傳每則訊息的 type 欄位
func (c *RecordingConn) Types() []string {
	events := c.Events()
	out := make([]string, 0, len(events))
	for _, e := range events {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

// Count 回傳指定 type 的訊息數量
func (c *RecordingConn) Count(eventType string) int {
	n := 0
	for _, t := range c.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// Last 回傳最後一則指定 type 的訊息
func (c *RecordingConn) Last(eventType string) (map[string]any, bool) {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i]["type"] == eventType {
			return events[i], true
		}
	}
	return nil, false
}
