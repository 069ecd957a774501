package sim_test

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/sim"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// scriptedGame 依腳本回傳結果的遊戲
type scriptedGame struct {
	mu      sync.Mutex
	applied []sim.Input
	steps   int
	finalAt int
	failAt  int
	panicAt int
}

func (g *scriptedGame) Apply(in sim.Input) error {
	if in.Value == "bad" {
		return apperrors.ErrInvalidInput
	}
	g.mu.Lock()
	g.applied = append(g.applied, in)
	g.mu.Unlock()
	return nil
}

func (g *scriptedGame) Step(time.Duration) (sim.Outcome, error) {
	g.mu.Lock()
	g.steps++
	n := g.steps
	g.mu.Unlock()

	switch {
	case g.panicAt > 0 && n == g.panicAt:
		panic("boom")
	case g.failAt > 0 && n == g.failAt:
		return sim.Outcome{}, errors.New("broken physics")
	case g.finalAt > 0 && n == g.finalAt:
		return sim.Outcome{
			Events: []any{map[string]any{"type": "game_end"}},
			Final:  true,
			Result: &sim.Result{Winner: "left"},
		}, nil
	}
	return sim.Outcome{Events: []any{map[string]any{"type": "gu", "n": n}}}, nil
}

func (g *scriptedGame) Snapshot() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]int{"steps": g.steps}
}

func (g *scriptedGame) appliedInputs() []sim.Input {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sim.Input, len(g.applied))
	copy(out, g.applied)
	return out
}

// TestEngine_StartOnce 只有所有玩家 ready 後且只啟動一次
func TestEngine_StartOnce(t *testing.T) {
	game := &scriptedGame{}
	e := sim.NewEngine(game, []string{"a", "b"}, time.Millisecond, sim.Hooks{}, testLogger())
	defer func() {
		e.Stop()
		e.Wait()
	}()

	assert.False(t, e.MarkReady("a"))
	assert.False(t, e.MarkReady("stranger"), "non-players are ignored")
	assert.True(t, e.MarkReady("b"))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Start() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Eventually(t, func() bool { return e.Ticks() > 0 }, time.Second, time.Millisecond)
	assert.True(t, e.Running())
}

// TestEngine_LastWriteWins 同一 tick 內同一控制項只保留最後一筆
func TestEngine_LastWriteWins(t *testing.T) {
	game := &scriptedGame{}
	e := sim.NewEngine(game, []string{"a", "b"}, 20*time.Millisecond, sim.Hooks{}, testLogger())

	require.NoError(t, e.Submit(sim.Input{Player: "a", Control: "move", Value: "up"}))
	require.NoError(t, e.Submit(sim.Input{Player: "a", Control: "move", Value: "down"}))
	require.NoError(t, e.Submit(sim.Input{Player: "b", Control: "move", Value: "bad"}))
	require.NoError(t, e.Submit(sim.Input{Player: "b", Control: "boost", Value: "on"}))

	err := e.Submit(sim.Input{Player: "ghost", Control: "move", Value: "up"})
	assert.True(t, apperrors.IsInvalidClaim(err))

	require.True(t, e.Start())
	require.Eventually(t, func() bool { return e.Ticks() >= 1 }, time.Second, time.Millisecond)
	e.Stop()
	e.Wait()

	assert.Equal(t, []sim.Input{
		{Player: "a", Control: "move", Value: "down"},
		{Player: "b", Control: "boost", Value: "on"},
	}, game.appliedInputs())
}

// TestEngine_FinalOutcome 終局事件後迴圈結束
func TestEngine_FinalOutcome(t *testing.T) {
	game := &scriptedGame{finalAt: 3}

	var mu sync.Mutex
	var outcomes []sim.Outcome
	e := sim.NewEngine(game, []string{"a"}, time.Millisecond, sim.Hooks{
		OnTick: func(out sim.Outcome) {
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		},
	}, testLogger())

	require.True(t, e.Start())
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[1].Final)
	assert.True(t, outcomes[2].Final)
	assert.Equal(t, "left", outcomes[2].Result.Winner)
	assert.False(t, e.Running())
}

// TestEngine_Fault 錯誤與 panic 都轉為 SIMULATION_FAULT
func TestEngine_Fault(t *testing.T) {
	tests := []struct {
		name string
		game *scriptedGame
	}{
		{name: "error", game: &scriptedGame{failAt: 2}},
		{name: "panic", game: &scriptedGame{panicAt: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faults := make(chan error, 1)
			var ticks atomic.Int32
			e := sim.NewEngine(tt.game, []string{"a"}, time.Millisecond, sim.Hooks{
				OnTick:  func(sim.Outcome) { ticks.Add(1) },
				OnFault: func(err error) { faults <- err },
			}, testLogger())

			require.True(t, e.Start())
			e.Wait()

			select {
			case err := <-faults:
				assert.True(t, apperrors.IsSimulationFault(err))
			default:
				t.Fatal("fault hook not called")
			}
			assert.Equal(t, int32(1), ticks.Load(), "faulted tick emits nothing")
		})
	}
}

// TestEngine_StopBeforeStart 尚未啟動就停止，之後無法啟動
func TestEngine_StopBeforeStart(t *testing.T) {
	e := sim.NewEngine(&scriptedGame{}, []string{"a"}, time.Millisecond, sim.Hooks{}, testLogger())

	e.Stop()
	e.Stop()
	e.Wait()

	assert.False(t, e.Start())
	assert.False(t, e.Running())
}

// TestEngine_TickOrdering 下一個 tick 在 hook 返回後才開始
func TestEngine_TickOrdering(t *testing.T) {
	game := &scriptedGame{finalAt: 5}

	var inHook atomic.Bool
	var overlap atomic.Bool
	e := sim.NewEngine(game, []string{"a"}, time.Millisecond, sim.Hooks{
		OnTick: func(sim.Outcome) {
			if !inHook.CompareAndSwap(false, true) {
				overlap.Store(true)
			}
			time.Sleep(3 * time.Millisecond)
			inHook.Store(false)
		},
	}, testLogger())

	require.True(t, e.Start())
	e.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, uint64(5), e.Ticks())
}
