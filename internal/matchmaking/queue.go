// Package matchmaking 依遊戲模式配對玩家
//
// 系統設計問題：
//
//	大量玩家同時排隊，如何保證每位玩家只會被配進一個房間？
//
// 核心挑戰：
//  1. 掃描與移除必須相對於 Enqueue/Withdraw 原子化
//  2. 通知遊戲服務需要網路 I/O，不能持有佇列鎖
//  3. 排隊的連線隨時可能斷線或逾時
//
// 設計方案：
//
//	✅ 單一互斥鎖保護所有模式的 FIFO 與玩家狀態
//	✅ 每個 tick 每個模式最多組成一隊，鎖內取出、鎖外通知
//	✅ Ticket（promise）：配對結果透過 channel 傳回等待中的連線
//	✅ 請求 TTL：逾時的請求被移除並以 EXPIRED 拒絕
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// ErrWithdrawn 玩家主動離開佇列
var ErrWithdrawn = apperrors.New(apperrors.ErrCodeInvalidInput, "matchmaking request withdrawn")

// Formation 組隊完成後送往遊戲服務的內容
type Formation struct {
	RoomID  string   `json:"gameId"`
	AdminID string   `json:"adminId"`
	Mode    string   `json:"gameMode"`
	Players []string `json:"playersList"`
}

// Assignment 配對結果
type Assignment struct {
	RoomID  string `json:"room_id"`
	AdminID string `json:"-"`
	Mode    string `json:"mode"`
}

// Notifier 通知遊戲服務建立房間（單次嘗試，失敗即中止組隊）
type Notifier interface {
	NotifyFormation(ctx context.Context, f Formation) error
}

// AdminStarter 啟動房間的 admin 控制器
type AdminStarter interface {
	StartAdmin(ctx context.Context, f Formation) error
}

// Recorder 狀態與歷史的非同步記錄
type Recorder interface {
	RecordStatus(username string, status session.Status)
	AppendHistory(username, roomID string)
}

// Ticket 一次排隊請求的結果
type Ticket struct {
	Username   string
	Mode       string
	EnqueuedAt time.Time

	done       chan struct{}
	once       sync.Once
	assignment Assignment
	err        error
}

func newTicket(username, mode string) *Ticket {
	return &Ticket{
		Username:   username,
		Mode:       mode,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Wait 等待配對結果
func (t *Ticket) Wait(ctx context.Context) (Assignment, error) {
	select {
	case <-t.done:
		return t.assignment, t.err
	case <-ctx.Done():
		return Assignment{}, ctx.Err()
	}
}

// Done 結果確定時關閉
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

func (t *Ticket) resolve(a Assignment, err error) {
	t.once.Do(func() {
		t.assignment = a
		t.err = err
		close(t.done)
	})
}

// ActivityChecker 查詢玩家是否已在房間內（大廳房、補位、觀戰）
type ActivityChecker interface {
	ActiveRoom(username string) (roomID string, ok bool)
}

// Options 佇列參數
type Options struct {
	Modes         map[string]config.Mode
	Activity      ActivityChecker
	Notifier      Notifier
	Admin         AdminStarter
	Recorder      Recorder
	Logger        *slog.Logger
	Interval      time.Duration
	RequestTTL    time.Duration
	NotifyTimeout time.Duration
}

// Queue 配對佇列
type Queue struct {
	mu       sync.Mutex
	waiting  map[string][]*Ticket
	statuses map[string]session.Status // 只記錄 in_queue 與 pending
	stopped  bool

	modes         map[string]config.Mode
	activity      ActivityChecker
	notifier      Notifier
	admin         AdminStarter
	recorder      Recorder
	logger        *slog.Logger
	interval      time.Duration
	ttl           time.Duration
	notifyTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 創建配對佇列
func New(opts Options) *Queue {
	q := &Queue{
		waiting:       make(map[string][]*Ticket),
		statuses:      make(map[string]session.Status),
		modes:         opts.Modes,
		activity:      opts.Activity,
		notifier:      opts.Notifier,
		admin:         opts.Admin,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
		interval:      opts.Interval,
		ttl:           opts.RequestTTL,
		notifyTimeout: opts.NotifyTimeout,
	}
	if q.recorder == nil {
		q.recorder = nopRecorder{}
	}
	if q.admin == nil {
		q.admin = nopAdmin{}
	}
	if q.activity == nil {
		q.activity = nopActivity{}
	}
	return q
}

// Enqueue 加入配對佇列
//
// 玩家已在佇列中、已有保留（pending）或已在房間內時立即回傳 DUPLICATE_REQUEST。
func (q *Queue) Enqueue(ctx context.Context, username, mode string) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if username == "" {
		return nil, apperrors.ErrInvalidInput.WithDetails("username is required")
	}
	cfg, ok := q.modes[mode]
	if !ok || cfg.Lobby {
		return nil, apperrors.ErrUnknownMode.WithDetails(mode)
	}

	// 房間鎖不可在佇列鎖之內取得
	if roomID, ok := q.activity.ActiveRoom(username); ok {
		q.logger.Info("玩家已在房間內，拒絕配對", "username", username, "room_id", roomID)
		return nil, apperrors.ErrAlreadyActive.WithDetails(fmt.Sprintf("%s is in room %s", username, roomID))
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, apperrors.ErrQueueStopped
	}
	if status, exists := q.statuses[username]; exists {
		q.mu.Unlock()
		return nil, apperrors.ErrAlreadyActive.WithDetails(fmt.Sprintf("%s is %s", username, status))
	}
	ticket := newTicket(username, mode)
	q.waiting[mode] = append(q.waiting[mode], ticket)
	q.statuses[username] = session.StatusInQueue
	position := len(q.waiting[mode])
	q.mu.Unlock()

	q.recorder.RecordStatus(username, session.StatusInQueue)
	q.logger.Info("加入配對佇列", "username", username, "mode", mode, "position", position)
	return ticket, nil
}

// Withdraw 離開佇列，只在等待中有效
func (q *Queue) Withdraw(username string) bool {
	q.mu.Lock()
	ticket := q.removeLocked(username)
	if ticket != nil {
		delete(q.statuses, username)
	}
	q.mu.Unlock()

	if ticket == nil {
		return false
	}
	q.recorder.RecordStatus(username, session.StatusInactive)
	ticket.resolve(Assignment{}, ErrWithdrawn)
	q.logger.Info("離開配對佇列", "username", username, "mode", ticket.Mode)
	return true
}

// Release 解除 pending 保留（房間結束或玩家被移出房間時呼叫）
func (q *Queue) Release(username string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.statuses[username] == session.StatusPending {
		delete(q.statuses, username)
	}
}

// Status 回傳玩家在佇列中的狀態
func (q *Queue) Status(username string) session.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if status, ok := q.statuses[username]; ok {
		return status
	}
	return session.StatusInactive
}

// Waiting 回傳各模式等待人數
func (q *Queue) Waiting() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.waiting))
	for mode, list := range q.waiting {
		out[mode] = len(list)
	}
	return out
}

// Start 啟動配對迴圈
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.loop(ctx)

	q.logger.Info("配對佇列已啟動", "interval", q.interval, "request_ttl", q.ttl)
}

// Stop 停止配對迴圈，拒絕所有等待中的請求
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	q.stopped = true
	var rejected []*Ticket
	for mode, list := range q.waiting {
		rejected = append(rejected, list...)
		delete(q.waiting, mode)
	}
	for _, t := range rejected {
		delete(q.statuses, t.Username)
	}
	q.mu.Unlock()

	for _, t := range rejected {
		q.recorder.RecordStatus(t.Username, session.StatusInactive)
		t.resolve(Assignment{}, apperrors.ErrQueueStopped)
	}

	q.logger.Info("配對佇列已停止", "rejected", len(rejected))
}

func (q *Queue) loop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick 執行一輪配對（公開方法供測試使用）
//
// 每個模式（依名稱排序）最多組成一隊。
func (q *Queue) Tick(ctx context.Context) {
	q.expire()

	for _, mode := range q.sortedModes() {
		if ctx.Err() != nil {
			return
		}
		party := q.takeParty(mode)
		if party == nil {
			continue
		}
		q.form(ctx, mode, party)
	}
}

func (q *Queue) sortedModes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	modes := make([]string, 0, len(q.waiting))
	for mode := range q.waiting {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}

// takeParty 取出恰好 N 個最早的請求，並標記為 pending
func (q *Queue) takeParty(mode string) []*Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	need := q.modes[mode].Players
	list := q.waiting[mode]
	if need <= 0 || len(list) < need {
		return nil
	}

	party := make([]*Ticket, need)
	copy(party, list[:need])
	rest := list[need:]
	if len(rest) == 0 {
		delete(q.waiting, mode)
	} else {
		q.waiting[mode] = append([]*Ticket(nil), rest...)
	}
	for _, t := range party {
		q.statuses[t.Username] = session.StatusPending
	}
	return party
}

// form 鎖外通知遊戲服務、啟動 admin、回覆所有 ticket
func (q *Queue) form(ctx context.Context, mode string, party []*Ticket) {
	players := make([]string, len(party))
	for i, t := range party {
		players[i] = t.Username
	}
	f := Formation{
		RoomID:  uuid.New().String(),
		AdminID: uuid.New().String(),
		Mode:    mode,
		Players: players,
	}

	if err := q.notifyAndStart(ctx, f); err != nil {
		q.logger.Error("組隊失敗", "room_id", f.RoomID, "mode", mode, "players", players, "error", err)

		q.mu.Lock()
		for _, name := range players {
			delete(q.statuses, name)
		}
		q.mu.Unlock()

		failure := apperrors.Wrap(err, apperrors.ErrCodeFormationFailed, "formation failed")
		for _, t := range party {
			q.recorder.RecordStatus(t.Username, session.StatusInactive)
			t.resolve(Assignment{}, failure)
		}
		return
	}

	assignment := Assignment{RoomID: f.RoomID, AdminID: f.AdminID, Mode: mode}
	for _, t := range party {
		q.recorder.RecordStatus(t.Username, session.StatusPending)
		q.recorder.AppendHistory(t.Username, f.RoomID)
		t.resolve(assignment, nil)
	}

	q.logger.Info("組隊完成", "room_id", f.RoomID, "mode", mode, "players", players)
}

func (q *Queue) notifyAndStart(ctx context.Context, f Formation) error {
	if q.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.notifyTimeout)
		defer cancel()
	}

	if err := q.notifier.NotifyFormation(ctx, f); err != nil {
		return fmt.Errorf("notify formation: %w", err)
	}
	if err := q.admin.StartAdmin(ctx, f); err != nil {
		return fmt.Errorf("start admin: %w", err)
	}
	return nil
}

// expire 移除超過 TTL 的請求
func (q *Queue) expire() {
	if q.ttl <= 0 {
		return
	}
	now := time.Now()

	q.mu.Lock()
	var expired []*Ticket
	for mode, list := range q.waiting {
		kept := list[:0]
		for _, t := range list {
			if now.Sub(t.EnqueuedAt) >= q.ttl {
				expired = append(expired, t)
				delete(q.statuses, t.Username)
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(q.waiting, mode)
		} else {
			q.waiting[mode] = kept
		}
	}
	q.mu.Unlock()

	for _, t := range expired {
		q.recorder.RecordStatus(t.Username, session.StatusInactive)
		t.resolve(Assignment{}, apperrors.ErrRequestExpired.WithDetails(t.Username))
		q.logger.Info("配對請求逾時", "username", t.Username, "mode", t.Mode)
	}
}

func (q *Queue) removeLocked(username string) *Ticket {
	for mode, list := range q.waiting {
		for i, t := range list {
			if t.Username != username {
				continue
			}
			rest := append(list[:i:i], list[i+1:]...)
			if len(rest) == 0 {
				delete(q.waiting, mode)
			} else {
				q.waiting[mode] = rest
			}
			return t
		}
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordStatus(string, session.Status) {}
func (nopRecorder) AppendHistory(string, string)        {}

type nopAdmin struct{}

func (nopAdmin) StartAdmin(context.Context, Formation) error { return nil }

type nopActivity struct{}

func (nopActivity) ActiveRoom(string) (string, bool) { return "", false }
