package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// Hooks 引擎回呼
//
// 兩者都在迴圈 goroutine 中同步呼叫，不持有引擎的鎖；
// 可以在 hook 內呼叫 Stop，但不能呼叫 Wait。
type Hooks struct {
	OnTick  func(out Outcome)
	OnFault func(err error)
}

// Engine 單一房間的模擬迴圈
type Engine struct {
	game     Game
	interval time.Duration
	hooks    Hooks
	logger   *slog.Logger

	mu      sync.Mutex
	players map[string]bool
	ready   map[string]bool
	pending map[string]map[string]Input // player -> control -> input

	started  atomic.Bool
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	ticks atomic.Uint64
}

// NewEngine 創建模擬引擎（loading 狀態）
func NewEngine(game Game, players []string, interval time.Duration, hooks Hooks, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		game:     game,
		interval: interval,
		hooks:    hooks,
		logger:   logger,
		players:  make(map[string]bool, len(players)),
		ready:    make(map[string]bool, len(players)),
		pending:  make(map[string]map[string]Input),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, p := range players {
		e.players[p] = true
	}
	return e
}

// MarkReady 標記玩家就緒，回傳是否所有玩家都已就緒
func (e *Engine) MarkReady(player string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.players[player] {
		e.ready[player] = true
	}
	return len(e.ready) == len(e.players)
}

// Start 啟動迴圈，只有第一次呼叫會成功
func (e *Engine) Start() bool {
	if !e.started.CompareAndSwap(false, true) {
		return false
	}
	go e.run()
	return true
}

// Running 迴圈是否已啟動且尚未結束
func (e *Engine) Running() bool {
	if !e.started.Load() {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Stop 要求迴圈在下一個暫停點結束（不等待）
//
// 尚未啟動的引擎會直接進入結束狀態，之後的 Start 不會生效。
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		if e.started.CompareAndSwap(false, true) {
			close(e.done)
		}
	})
}

// Wait 等待迴圈結束
func (e *Engine) Wait() {
	<-e.done
}

// Done 迴圈結束時關閉的 channel
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Ticks 已完成的 tick 數
func (e *Engine) Ticks() uint64 {
	return e.ticks.Load()
}

// Submit 緩衝玩家輸入，下一個 tick 開始時套用
func (e *Engine) Submit(in Input) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.players[in.Player] {
		return apperrors.ErrNotAPlayer.WithDetails(in.Player)
	}
	controls, ok := e.pending[in.Player]
	if !ok {
		controls = make(map[string]Input)
		e.pending[in.Player] = controls
	}
	controls[in.Control] = in
	return nil
}

// AddPlayer 遊戲進行中加入玩家（遊戲需實作 Joiner）
func (e *Engine) AddPlayer(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.game.(Joiner)
	if !ok {
		return apperrors.New(apperrors.ErrCodeInvalidClaim, "game does not accept players mid-game")
	}
	if err := j.AddPlayer(name); err != nil {
		return err
	}
	e.players[name] = true
	e.ready[name] = true
	return nil
}

// RemovePlayer 從遊戲中移除玩家
func (e *Engine) RemovePlayer(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.players, name)
	delete(e.ready, name)
	delete(e.pending, name)
	if j, ok := e.game.(Joiner); ok {
		j.RemovePlayer(name)
	}
}

// Snapshot 回傳遊戲的完整狀態
func (e *Engine) Snapshot() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.game.Snapshot()
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			out, err := e.tick(dt)
			if err != nil {
				e.logger.Error("模擬步驟失敗", "error", err, "tick", e.ticks.Load())
				if e.hooks.OnFault != nil {
					e.hooks.OnFault(err)
				}
				return
			}
			e.ticks.Add(1)

			// 取消後不再送出事件
			if e.ctx.Err() != nil {
				return
			}
			if e.hooks.OnTick != nil {
				e.hooks.OnTick(out)
			}
			if out.Final {
				return
			}
		}
	}
}

// tick 套用緩衝輸入並推進一步
func (e *Engine) tick(dt time.Duration) (out Outcome, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Wrap(fmt.Errorf("panic: %v", r), apperrors.ErrCodeSimulationFault, "simulation step panicked")
		}
	}()

	e.applyPending()

	out, err = e.game.Step(dt)
	if err != nil {
		return Outcome{}, apperrors.Wrap(err, apperrors.ErrCodeSimulationFault, "simulation step failed")
	}
	return out, nil
}

// applyPending 依玩家、控制項排序套用，結果可重現
func (e *Engine) applyPending() {
	if len(e.pending) == 0 {
		return
	}

	players := make([]string, 0, len(e.pending))
	for p := range e.pending {
		players = append(players, p)
	}
	sort.Strings(players)

	for _, p := range players {
		controls := e.pending[p]
		keys := make([]string, 0, len(controls))
		for k := range controls {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if err := e.game.Apply(controls[k]); err != nil {
				e.logger.Warn("丟棄無效輸入",
					"player", p,
					"control", k,
					"error", err)
			}
		}
	}
	clear(e.pending)
}
