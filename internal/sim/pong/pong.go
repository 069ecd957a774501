// Package pong 實作 pong 遊戲規則（1v1 與 2v2）
//
// 得分規則：球出界時對側得一分，先到 5 分的一側獲勝。
// 開局球靜止 3 秒，每次得分後靜止 1 秒。
package pong

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/sim"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// Side 場地的一側
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// 遊戲參數
const (
	WinningScore = 5

	ArenaWidth  = 800.0
	ArenaHeight = 600.0

	PaddleWidth  = 10.0
	PaddleHeight = 100.0
	PaddleSpeed  = 400.0 // px/s
	PaddleMargin = 20.0
	// DuoOffset 2v2 時第二支球拍往內縮的距離
	DuoOffset = 60.0

	BallRadius   = 10.0
	BallSpeed    = 300.0 // px/s
	BallSpeedUp  = 1.05
	BallMaxSpeed = 900.0

	KickoffWait = 3 * time.Second
	ScoreWait   = time.Second
)

// 輸入
const (
	ControlMove = "move"

	MoveUp   = "up"
	MoveDown = "down"
	MoveStop = "stop"
)

// Vec 二維向量
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type paddle struct {
	player string
	side   Side
	x, y   float64 // 左上角
	dir    float64 // -1 上、0 停、1 下
}

type ball struct {
	pos   Vec
	dir   Vec // 單位向量
	speed float64
}

// Game pong 遊戲狀態
type Game struct {
	mode     string
	paddles  []*paddle
	byPlayer map[string]*paddle
	bySide   map[Side][]*paddle
	ball     ball
	score    map[Side]int
	wait     time.Duration
	rng      *rand.Rand
}

// New 創建 pong 遊戲，玩家依順序交替分配到左右兩側
func New(mode string, players []string, seed int64) (*Game, error) {
	if len(players) != 2 && len(players) != 4 {
		return nil, apperrors.ErrPlayerCountMismatch.WithDetails(fmt.Sprintf("pong needs 2 or 4 players, got %d", len(players)))
	}

	g := &Game{
		mode:     mode,
		byPlayer: make(map[string]*paddle, len(players)),
		bySide:   make(map[Side][]*paddle, 2),
		score:    map[Side]int{Left: 0, Right: 0},
		wait:     KickoffWait,
		rng:      rand.New(rand.NewSource(seed)), // #nosec G404 - 遊戲用隨機數
	}

	for i, name := range players {
		side := Left
		if i%2 == 1 {
			side = Right
		}
		inner := float64(len(g.bySide[side])) * DuoOffset

		p := &paddle{
			player: name,
			side:   side,
			y:      (ArenaHeight - PaddleHeight) / 2,
		}
		if side == Left {
			p.x = PaddleMargin + inner
		} else {
			p.x = ArenaWidth - PaddleMargin - PaddleWidth - inner
		}

		g.paddles = append(g.paddles, p)
		g.byPlayer[name] = p
		g.bySide[side] = append(g.bySide[side], p)
	}

	g.serve(Left)
	return g, nil
}

// Apply 套用移動輸入
func (g *Game) Apply(in sim.Input) error {
	p, ok := g.byPlayer[in.Player]
	if !ok {
		return apperrors.ErrNotAPlayer.WithDetails(in.Player)
	}
	if in.Control != ControlMove {
		return apperrors.ErrInvalidInput.WithDetails("unknown control " + in.Control)
	}

	switch in.Value {
	case MoveUp:
		p.dir = -1
	case MoveDown:
		p.dir = 1
	case MoveStop:
		p.dir = 0
	default:
		return apperrors.ErrInvalidInput.WithDetails("unknown move " + in.Value)
	}
	return nil
}

// Step 推進一步
func (g *Game) Step(dt time.Duration) (sim.Outcome, error) {
	secs := dt.Seconds()

	for _, p := range g.paddles {
		p.y = clamp(p.y+p.dir*PaddleSpeed*secs, 0, ArenaHeight-PaddleHeight)
	}

	if g.wait > 0 {
		g.wait -= dt
		if g.wait < 0 {
			g.wait = 0
		}
		return sim.Outcome{Events: []any{g.update()}}, nil
	}

	g.moveBall(secs)

	if side, ok := g.scoringSide(); ok {
		return g.scored(side), nil
	}
	return sim.Outcome{Events: []any{g.update()}}, nil
}

func (g *Game) moveBall(secs float64) {
	b := &g.ball
	b.pos.X += b.dir.X * b.speed * secs
	b.pos.Y += b.dir.Y * b.speed * secs

	// 上下牆反彈
	if b.pos.Y-BallRadius < 0 {
		b.pos.Y = BallRadius
		b.dir.Y = math.Abs(b.dir.Y)
	} else if b.pos.Y+BallRadius > ArenaHeight {
		b.pos.Y = ArenaHeight - BallRadius
		b.dir.Y = -math.Abs(b.dir.Y)
	}

	for _, p := range g.paddles {
		if !g.hits(p) {
			continue
		}
		// 只在球朝球拍方向移動時反彈
		if (p.side == Left && b.dir.X >= 0) || (p.side == Right && b.dir.X <= 0) {
			continue
		}

		// 擊中位置決定反彈角度，最大 45 度
		offset := (b.pos.Y - (p.y + PaddleHeight/2)) / (PaddleHeight / 2)
		angle := clamp(offset, -1, 1) * math.Pi / 4
		dx := math.Cos(angle)
		if p.side == Right {
			dx = -dx
		}
		b.dir = Vec{X: dx, Y: math.Sin(angle)}
		b.speed = math.Min(b.speed*BallSpeedUp, BallMaxSpeed)

		if p.side == Left {
			b.pos.X = p.x + PaddleWidth + BallRadius
		} else {
			b.pos.X = p.x - BallRadius
		}
		break
	}
}

func (g *Game) hits(p *paddle) bool {
	b := g.ball
	nearestX := clamp(b.pos.X, p.x, p.x+PaddleWidth)
	nearestY := clamp(b.pos.Y, p.y, p.y+PaddleHeight)
	dx := b.pos.X - nearestX
	dy := b.pos.Y - nearestY
	return dx*dx+dy*dy <= BallRadius*BallRadius
}

// scoringSide 球出界時回傳得分的一側
func (g *Game) scoringSide() (Side, bool) {
	switch {
	case g.ball.pos.X+BallRadius < 0:
		return Right, true
	case g.ball.pos.X-BallRadius > ArenaWidth:
		return Left, true
	}
	return "", false
}

// scored 處理得分：重置球、加分，達到門檻時結束
func (g *Game) scored(side Side) sim.Outcome {
	g.score[side]++
	// 球發向失分的一側
	g.serve(side.opposite())

	score := strconv.Itoa(g.score[side])
	if g.score[side] >= WinningScore {
		reason := fmt.Sprintf("The %s side wins !", side)
		return sim.Outcome{
			Events: []any{GameEnd{
				Type:   "game_end",
				Reason: reason,
				Score:  score,
				Team:   string(side),
			}},
			Final: true,
			Result: &sim.Result{
				Winner: string(side),
				Reason: reason,
				Scores: g.scores(),
			},
		}
	}

	g.wait = ScoreWait
	return sim.Outcome{Events: []any{Scored{
		Type:  "scored",
		Msg:   fmt.Sprintf("The %s scores : %s", side, score),
		Score: score,
		Team:  string(side),
	}}}
}

// serve 把球放回中央並朝 toward 方向發球
func (g *Game) serve(toward Side) {
	angle := (g.rng.Float64()*2 - 1) * math.Pi / 6
	dx := math.Cos(angle)
	if toward == Left {
		dx = -dx
	}
	g.ball = ball{
		pos:   Vec{X: ArenaWidth / 2, Y: ArenaHeight / 2},
		dir:   Vec{X: dx, Y: math.Sin(angle)},
		speed: BallSpeed,
	}
}

func (g *Game) scores() map[string]int {
	return map[string]int{
		string(Left):  g.score[Left],
		string(Right): g.score[Right],
	}
}

// update 組出 gu 事件
func (g *Game) update() Update {
	// 左側編號在前：1v1 為 p1/p2，2v2 為 p1、p2 在左，p3、p4 在右
	pp := make(map[string]float64, len(g.paddles))
	n := 1
	for _, side := range []Side{Left, Right} {
		for _, p := range g.bySide[side] {
			pp["p"+strconv.Itoa(n)] = p.y
			n++
		}
	}

	return Update{
		Type: "gu",
		BP:   g.ball.pos,
		BS: Vec{
			X: g.ball.dir.X * g.ball.speed / BallMaxSpeed,
			Y: g.ball.dir.Y * g.ball.speed / BallMaxSpeed,
		},
		PP: pp,
	}
}

// Snapshot 匯出開局資料
func (g *Game) Snapshot() any {
	teams := Teams{Left: []string{}, Right: []string{}}
	for _, p := range g.bySide[Left] {
		teams.Left = append(teams.Left, p.player)
	}
	for _, p := range g.bySide[Right] {
		teams.Right = append(teams.Right, p.player)
	}

	return Export{
		GameMode: g.mode,
		Arena:    Vec{X: ArenaWidth, Y: ArenaHeight},
		Ball:     BallData{Radius: BallRadius, Speed: BallSpeed},
		Padel: PadelData{
			Width:  PaddleWidth,
			Height: PaddleHeight,
			Speed:  PaddleSpeed,
		},
		Teams: teams,
		Score: g.scores(),
	}
}

// SideOf 回傳玩家所在的一側
func (g *Game) SideOf(player string) (Side, bool) {
	p, ok := g.byPlayer[player]
	if !ok {
		return "", false
	}
	return p.side, true
}

func (s Side) opposite() Side {
	if s == Left {
		return Right
	}
	return Left
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
