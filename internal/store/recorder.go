package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
)

// writeTimeout 單筆寫入的逾時
const writeTimeout = 3 * time.Second

type opKind int

const (
	opStatus opKind = iota
	opHistory
	opResult
)

func (k opKind) String() string {
	switch k {
	case opStatus:
		return "status"
	case opHistory:
		return "history"
	case opResult:
		return "result"
	default:
		return "unknown"
	}
}

type op struct {
	kind     opKind
	username string
	status   session.Status
	roomID   string
	result   GameResult
}

// Recorder 非同步記錄器
//
// 所有 Record 方法都不會阻塞：緩衝區滿時丟棄並計數。
// 由單一 worker 依序寫入，同一玩家的狀態變化保持順序。
type Recorder struct {
	statuses StatusStore
	history  HistoryStore
	logger   *slog.Logger

	mu      sync.RWMutex
	buffer  chan op
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder 創建非同步記錄器並啟動 worker
func NewRecorder(statuses StatusStore, history HistoryStore, bufferSize int, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		statuses: statuses,
		history:  history,
		logger:   logger,
		buffer:   make(chan op, bufferSize),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// RecordStatus 記錄玩家狀態變化
func (r *Recorder) RecordStatus(username string, status session.Status) {
	r.enqueue(op{kind: opStatus, username: username, status: status})
}

// AppendHistory 記錄玩家加入的房間
func (r *Recorder) AppendHistory(username, roomID string) {
	r.enqueue(op{kind: opHistory, username: username, roomID: roomID})
}

// RecordResult 記錄遊戲結果
func (r *Recorder) RecordResult(roomID, mode string, players []string, result sim.Result) {
	r.enqueue(op{kind: opResult, roomID: roomID, result: GameResult{
		RoomID:     roomID,
		Mode:       mode,
		Players:    append([]string(nil), players...),
		Winner:     result.Winner,
		Reason:     result.Reason,
		Scores:     result.Scores,
		FinishedAt: time.Now(),
	}})
}

// Status 直接查詢玩家狀態（同步讀取）
func (r *Recorder) Status(ctx context.Context, username string) (session.Status, error) {
	return r.statuses.Status(ctx, username)
}

// History 直接查詢玩家歷史（同步讀取）
func (r *Recorder) History(ctx context.Context, username string, limit int) ([]HistoryEntry, error) {
	return r.history.History(ctx, username, limit)
}

// Stats 回傳丟棄與失敗次數
func (r *Recorder) Stats() map[string]int64 {
	return map[string]int64{
		"dropped": r.dropped.Load(),
		"failed":  r.failed.Load(),
		"pending": int64(len(r.buffer)),
	}
}

func (r *Recorder) enqueue(o op) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.buffer <- o:
	default:
		// 緩衝區滿（背壓）：丟棄，不阻塞呼叫端
		r.dropped.Add(1)
		r.logger.Warn("記錄緩衝區已滿，丟棄",
			"kind", o.kind,
			"username", o.username,
			"room_id", o.roomID)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for o := range r.buffer {
		r.write(o)
	}
}

func (r *Recorder) write(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch o.kind {
	case opStatus:
		err = r.statuses.SetStatus(ctx, o.username, o.status)
	case opHistory:
		err = r.history.AppendHistory(ctx, o.username, o.roomID)
	case opResult:
		err = r.history.SaveResult(ctx, o.result)
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("記錄寫入失敗",
			"kind", o.kind,
			"username", o.username,
			"room_id", o.roomID,
			"error", err)
	}
}

// Close 停止接收新紀錄，寫完緩衝區後返回
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.buffer)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("記錄器已關閉", "dropped", r.dropped.Load(), "failed", r.failed.Load())
}
