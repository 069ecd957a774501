// Package area 實作區域爭奪遊戲（agario 類）
//
// 玩家在地圖上移動吃食物變大，大的玩家可以吃掉明顯較小的玩家；
// 被吃掉的玩家離開房間，只剩一名玩家時遊戲結束。
package area

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/sim"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// 遊戲參數
const (
	MapWidth  = 2000.0
	MapHeight = 2000.0

	MaxFood       = 100
	InitialFood   = 50
	FoodPerSpawn  = 5
	FoodValue     = 1
	FoodSpawnTick = time.Second

	MaxPowerUps      = 5
	PowerUpSpawnTick = 10 * time.Second
	PowerUpSlots     = 3
	PowerUpDuration  = 5 * time.Second
	GrowthAmount     = 10

	BaseRadius  = 20.0
	BaseSpeed   = 200.0 // px/s
	BoostFactor = 1.5
	// EatRatio 體型必須大於對方的倍數才能吃掉對方
	EatRatio = 1.1
)

// 輸入
const (
	// ControlKeyPrefix 方向鍵控制項前綴，例如 key:ArrowUp
	ControlKeyPrefix = "key:"
	// ControlPowerUp 使用道具，Value 為欄位索引
	ControlPowerUp = "power_up"

	KeyDown = "down"
	KeyUp   = "up"
)

// PowerUpKind 道具種類
type PowerUpKind string

const (
	SpeedBoost PowerUpKind = "speed_boost"
	Shield     PowerUpKind = "shield"
	Growth     PowerUpKind = "growth"
)

var powerUpKinds = []PowerUpKind{SpeedBoost, Shield, Growth}

// Food 食物
type Food struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// PowerUp 地圖上的道具
type PowerUp struct {
	ID   int         `json:"id"`
	Kind PowerUpKind `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

type player struct {
	name       string
	x, y       float64
	score      int
	keys       map[string]bool
	slots      [PowerUpSlots]*PowerUp
	boostLeft  time.Duration
	shieldLeft time.Duration
}

// Game 區域爭奪遊戲狀態
type Game struct {
	players  map[string]*player
	food     map[int]Food
	powerUps map[int]PowerUp
	nextID   int

	foodTimer    time.Duration
	powerUpTimer time.Duration
	rng          *rand.Rand
}

// New 創建遊戲並放置初始食物
func New(players []string, seed int64) (*Game, error) {
	g := &Game{
		players:  make(map[string]*player),
		food:     make(map[int]Food),
		powerUps: make(map[int]PowerUp),
		rng:      rand.New(rand.NewSource(seed)), // #nosec G404 - 遊戲用隨機數
	}
	for _, name := range players {
		if err := g.AddPlayer(name); err != nil {
			return nil, err
		}
	}
	g.spawnFood(InitialFood)
	return g, nil
}

// AddPlayer 在隨機位置加入玩家
func (g *Game) AddPlayer(name string) error {
	if _, exists := g.players[name]; exists {
		return apperrors.ErrAlreadyActive.WithDetails(name)
	}
	g.players[name] = &player{
		name: name,
		x:    g.rng.Float64() * MapWidth,
		y:    g.rng.Float64() * MapHeight,
		keys: make(map[string]bool),
	}
	return nil
}

// RemovePlayer 移除玩家
func (g *Game) RemovePlayer(name string) {
	delete(g.players, name)
}

// Apply 套用方向鍵或道具輸入
func (g *Game) Apply(in sim.Input) error {
	p, ok := g.players[in.Player]
	if !ok {
		return apperrors.ErrNotAPlayer.WithDetails(in.Player)
	}

	switch {
	case strings.HasPrefix(in.Control, ControlKeyPrefix):
		dir, ok := direction(strings.TrimPrefix(in.Control, ControlKeyPrefix))
		if !ok {
			return apperrors.ErrInvalidInput.WithDetails("unknown key " + in.Control)
		}
		switch in.Value {
		case KeyDown:
			p.keys[dir] = true
		case KeyUp:
			p.keys[dir] = false
		default:
			return apperrors.ErrInvalidInput.WithDetails("unknown key state " + in.Value)
		}
		return nil

	case in.Control == ControlPowerUp:
		slot, err := strconv.Atoi(in.Value)
		if err != nil || slot < 0 || slot >= PowerUpSlots {
			return apperrors.ErrInvalidInput.WithDetails("invalid power-up slot " + in.Value)
		}
		if p.slots[slot] == nil {
			return apperrors.ErrInvalidInput.WithDetails("empty power-up slot " + in.Value)
		}
		g.activate(p, slot)
		return nil
	}
	return apperrors.ErrInvalidInput.WithDetails("unknown control " + in.Control)
}

// direction 將按鍵名稱對應到方向
func direction(key string) (string, bool) {
	switch key {
	case "ArrowUp", "w", "z":
		return "up", true
	case "ArrowDown", "s":
		return "down", true
	case "ArrowLeft", "a", "q":
		return "left", true
	case "ArrowRight", "d":
		return "right", true
	}
	return "", false
}

func (g *Game) activate(p *player, slot int) {
	pu := p.slots[slot]
	p.slots[slot] = nil

	switch pu.Kind {
	case SpeedBoost:
		p.boostLeft = PowerUpDuration
	case Shield:
		p.shieldLeft = PowerUpDuration
	case Growth:
		p.score += GrowthAmount
	}
}

// Step 推進一步
func (g *Game) Step(dt time.Duration) (sim.Outcome, error) {
	var out sim.Outcome

	g.foodTimer += dt
	if g.foodTimer >= FoodSpawnTick {
		g.foodTimer = 0
		if g.spawnFood(FoodPerSpawn) > 0 {
			out.Events = append(out.Events, FoodUpdate{Type: "food_update", Food: g.foodList()})
		}
	}

	g.powerUpTimer += dt
	if g.powerUpTimer >= PowerUpSpawnTick {
		g.powerUpTimer = 0
		if pu, ok := g.spawnPowerUp(); ok {
			out.Events = append(out.Events, PowerUpEvent{Type: "power_up_spawned", PowerUp: pu, PowerUps: g.powerUpList()})
		}
	}

	names := g.playerNames()
	for _, name := range names {
		g.move(g.players[name], dt)
	}

	eatenFood := false
	for _, name := range names {
		p := g.players[name]
		if g.eatFood(p) {
			eatenFood = true
		}
		if pu, ok := g.collectPowerUp(p); ok {
			out.Events = append(out.Events, PowerUpEvent{Type: "power_up_collected", PlayerID: name, PowerUp: pu, PowerUps: g.powerUpList()})
		}
	}
	if eatenFood {
		out.Events = append(out.Events, FoodUpdate{Type: "food_update", Food: g.foodList()})
	}

	for _, e := range g.resolveEating(names) {
		out.Eliminated = append(out.Eliminated, sim.Elimination{Player: e.eaten, Score: e.score})
		out.Events = append(out.Events, PlayerEaten{
			Type:        "player_eat_other_player",
			PlayerID:    e.eater,
			PlayerEaten: e.eaten,
			Players:     g.playerStates(),
		})
	}

	// 有人被吃且只剩一名玩家時結束
	if len(out.Eliminated) > 0 && len(g.players) == 1 {
		winner := g.playerNames()[0]
		reason := fmt.Sprintf("%s is the last one standing", winner)
		out.Events = append(out.Events, GameEnd{Type: "game_end", Reason: reason, Winner: winner})
		out.Final = true
		out.Result = &sim.Result{Winner: winner, Reason: reason, Scores: g.scores()}
		return out, nil
	}

	out.Events = append(out.Events, Update{Type: "gu", Players: g.playerStates()})
	return out, nil
}

func (g *Game) move(p *player, dt time.Duration) {
	var dx, dy float64
	if p.keys["up"] {
		dy--
	}
	if p.keys["down"] {
		dy++
	}
	if p.keys["left"] {
		dx--
	}
	if p.keys["right"] {
		dx++
	}

	speed := BaseSpeed
	if p.boostLeft > 0 {
		speed *= BoostFactor
		p.boostLeft -= dt
	}
	if p.shieldLeft > 0 {
		p.shieldLeft -= dt
	}
	if dx == 0 && dy == 0 {
		return
	}

	n := math.Hypot(dx, dy)
	p.x = clamp(p.x+dx/n*speed*dt.Seconds(), 0, MapWidth)
	p.y = clamp(p.y+dy/n*speed*dt.Seconds(), 0, MapHeight)
}

func (g *Game) eatFood(p *player) bool {
	r := radius(p.score)
	eaten := false
	for id, f := range g.food {
		if math.Hypot(p.x-f.X, p.y-f.Y) <= r {
			delete(g.food, id)
			p.score += FoodValue
			eaten = true
		}
	}
	return eaten
}

func (g *Game) collectPowerUp(p *player) (PowerUp, bool) {
	slot := -1
	for i, s := range p.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return PowerUp{}, false
	}

	r := radius(p.score)
	for _, id := range sortedKeys(g.powerUps) {
		pu := g.powerUps[id]
		if math.Hypot(p.x-pu.X, p.y-pu.Y) <= r {
			delete(g.powerUps, id)
			p.slots[slot] = &pu
			return pu, true
		}
	}
	return PowerUp{}, false
}

type eating struct {
	eater, eaten string
	score        int
}

func (g *Game) resolveEating(names []string) []eating {
	var result []eating
	for _, a := range names {
		pa, ok := g.players[a]
		if !ok {
			continue
		}
		for _, b := range names {
			pb, ok := g.players[b]
			if !ok || a == b {
				continue
			}
			if pb.shieldLeft > 0 {
				continue
			}
			if float64(pa.score+1) <= float64(pb.score+1)*EatRatio {
				continue
			}
			if math.Hypot(pa.x-pb.x, pa.y-pb.y) > radius(pa.score) {
				continue
			}
			pa.score += pb.score
			delete(g.players, b)
			result = append(result, eating{eater: a, eaten: b, score: pb.score})
		}
	}
	return result
}

// spawnFood 補充食物，不超過上限，回傳實際新增數
func (g *Game) spawnFood(n int) int {
	added := 0
	for i := 0; i < n && len(g.food) < MaxFood; i++ {
		g.nextID++
		g.food[g.nextID] = Food{ID: g.nextID, X: g.rng.Float64() * MapWidth, Y: g.rng.Float64() * MapHeight}
		added++
	}
	return added
}

func (g *Game) spawnPowerUp() (PowerUp, bool) {
	if len(g.powerUps) >= MaxPowerUps {
		return PowerUp{}, false
	}
	g.nextID++
	pu := PowerUp{
		ID:   g.nextID,
		Kind: powerUpKinds[g.rng.Intn(len(powerUpKinds))],
		X:    g.rng.Float64() * MapWidth,
		Y:    g.rng.Float64() * MapHeight,
	}
	g.powerUps[pu.ID] = pu
	return pu, true
}

// Snapshot 開局或加入時的完整狀態
func (g *Game) Snapshot() any {
	return State{
		MapWidth:  MapWidth,
		MapHeight: MapHeight,
		MaxFood:   MaxFood,
		Players:   g.playerStates(),
		Food:      g.foodList(),
		PowerUps:  g.powerUpList(),
	}
}

func (g *Game) playerStates() []PlayerState {
	out := make([]PlayerState, 0, len(g.players))
	for _, name := range g.playerNames() {
		p := g.players[name]
		slots := make([]*PowerUpKind, PowerUpSlots)
		for i, s := range p.slots {
			if s != nil {
				kind := s.Kind
				slots[i] = &kind
			}
		}
		out = append(out, PlayerState{
			ID:       name,
			X:        p.x,
			Y:        p.y,
			Score:    p.score,
			Radius:   radius(p.score),
			PowerUps: slots,
			Shielded: p.shieldLeft > 0,
			Boosted:  p.boostLeft > 0,
		})
	}
	return out
}

func (g *Game) foodList() []Food {
	out := make([]Food, 0, len(g.food))
	for _, id := range sortedKeys(g.food) {
		out = append(out, g.food[id])
	}
	return out
}

func (g *Game) powerUpList() []PowerUp {
	out := make([]PowerUp, 0, len(g.powerUps))
	for _, id := range sortedKeys(g.powerUps) {
		out = append(out, g.powerUps[id])
	}
	return out
}

func (g *Game) scores() map[string]int {
	out := make(map[string]int, len(g.players))
	for name, p := range g.players {
		out[name] = p.score
	}
	return out
}

func (g *Game) playerNames() []string {
	names := make([]string, 0, len(g.players))
	for name := range g.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// radius 體型隨分數成長
func radius(score int) float64 {
	return BaseRadius + math.Sqrt(float64(score))*4
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
