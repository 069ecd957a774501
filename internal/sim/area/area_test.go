package area

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/sim"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGame(t *testing.T, players ...string) *Game {
	t.Helper()
	g, err := New(players, 42)
	require.NoError(t, err)
	return g
}

// TestGame_InitialFood 開局放置初始食物
func TestGame_InitialFood(t *testing.T) {
	g := newGame(t, "alice")

	state, ok := g.Snapshot().(State)
	require.True(t, ok)
	assert.Len(t, state.Food, InitialFood)
	assert.Len(t, state.Players, 1)
	assert.Equal(t, MapWidth, state.MapWidth)
}

// TestGame_FoodSpawn 食物定期補充且不超過上限
func TestGame_FoodSpawn(t *testing.T) {
	g := newGame(t, "alice")
	g.players["alice"].x, g.players["alice"].y = -1000, -1000 // 遠離食物
	clear(g.food)

	out, err := g.Step(FoodSpawnTick)
	require.NoError(t, err)
	assert.Len(t, g.food, FoodPerSpawn)
	assert.Equal(t, "food_update", out.Events[0].(FoodUpdate).Type)

	for i := 0; i < 100; i++ {
		_, err := g.Step(FoodSpawnTick)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(g.food), MaxFood)
}

// TestGame_Movement 方向鍵按下時移動，放開時停止
func TestGame_Movement(t *testing.T) {
	g := newGame(t, "alice")
	p := g.players["alice"]
	p.x, p.y = 1000, 1000

	require.NoError(t, g.Apply(sim.Input{Player: "alice", Control: "key:ArrowRight", Value: KeyDown}))
	_, err := g.Step(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 1000+BaseSpeed, p.x, 0.001)

	require.NoError(t, g.Apply(sim.Input{Player: "alice", Control: "key:ArrowRight", Value: KeyUp}))
	_, err = g.Step(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 1000+BaseSpeed, p.x, 0.001)
}

// TestGame_ApplyInvalid 無效輸入回傳 INVALID_INPUT
func TestGame_ApplyInvalid(t *testing.T) {
	g := newGame(t, "alice")

	tests := []sim.Input{
		{Player: "alice", Control: "key:F1", Value: KeyDown},
		{Player: "alice", Control: "key:ArrowUp", Value: "sideways"},
		{Player: "alice", Control: ControlPowerUp, Value: "9"},
		{Player: "alice", Control: ControlPowerUp, Value: "0"}, // 空欄位
		{Player: "alice", Control: "fly"},
	}
	for _, in := range tests {
		assert.True(t, apperrors.IsInvalidInput(g.Apply(in)), "%+v", in)
	}
	assert.True(t, apperrors.IsInvalidClaim(g.Apply(sim.Input{Player: "bob", Control: "key:w", Value: KeyDown})))
}

// TestGame_PowerUps 撿起道具後使用
func TestGame_PowerUps(t *testing.T) {
	g := newGame(t, "alice")
	p := g.players["alice"]
	p.x, p.y = 500, 500
	g.powerUps[999] = PowerUp{ID: 999, Kind: Growth, X: 500, Y: 500}

	out, err := g.Step(10 * time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, p.slots[0])
	assert.Empty(t, g.powerUps)

	var collected bool
	for _, ev := range out.Events {
		if pe, ok := ev.(PowerUpEvent); ok && pe.Type == "power_up_collected" {
			collected = true
		}
	}
	assert.True(t, collected)

	before := p.score
	require.NoError(t, g.Apply(sim.Input{Player: "alice", Control: ControlPowerUp, Value: "0"}))
	assert.Equal(t, before+GrowthAmount, p.score)
	assert.Nil(t, p.slots[0])
}

// TestGame_EatPlayer 大的玩家吃掉小的玩家，只剩一人時結束
func TestGame_EatPlayer(t *testing.T) {
	g := newGame(t, "big", "small")
	clear(g.food)
	g.players["big"].x, g.players["big"].y = 1000, 1000
	g.players["big"].score = 50
	g.players["small"].x, g.players["small"].y = 1005, 1000
	g.players["small"].score = 3

	out, err := g.Step(10 * time.Millisecond)
	require.NoError(t, err)

	require.Len(t, out.Eliminated, 1)
	assert.Equal(t, "small", out.Eliminated[0].Player)
	assert.Equal(t, 3, out.Eliminated[0].Score)
	assert.True(t, out.Final)
	require.NotNil(t, out.Result)
	assert.Equal(t, "big", out.Result.Winner)
	assert.Equal(t, 53, out.Result.Scores["big"])
}

// TestGame_ShieldProtects 護盾期間不會被吃
func TestGame_ShieldProtects(t *testing.T) {
	g := newGame(t, "big", "small")
	clear(g.food)
	g.players["big"].x, g.players["big"].y = 1000, 1000
	g.players["big"].score = 50
	g.players["small"].x, g.players["small"].y = 1005, 1000
	g.players["small"].shieldLeft = PowerUpDuration

	out, err := g.Step(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, out.Eliminated)
	assert.False(t, out.Final)
}

// TestGame_SoloNeverEnds 單人遊戲不會自動結束
func TestGame_SoloNeverEnds(t *testing.T) {
	g := newGame(t, "alice")
	for i := 0; i < 20; i++ {
		out, err := g.Step(500 * time.Millisecond)
		require.NoError(t, err)
		assert.False(t, out.Final)
	}
}

// TestGame_JoinLeave 遊戲中加入與移除玩家
func TestGame_JoinLeave(t *testing.T) {
	g := newGame(t, "alice")

	require.NoError(t, g.AddPlayer("bob"))
	assert.True(t, apperrors.IsDuplicateRequest(g.AddPlayer("bob")))
	assert.Len(t, g.players, 2)

	g.RemovePlayer("bob")
	assert.Len(t, g.players, 1)
}
