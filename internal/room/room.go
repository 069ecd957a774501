// Package room 管理房間的生命週期
//
// 系統設計問題：
//
//	玩家與 admin 幾乎同時連上同一個房間時，如何保證模擬只被建立一次？
//	任一必要參與者斷線時，如何把整個房間乾淨地收掉？
//
// 核心挑戰：
//  1. 座位認領的競態：最後一名玩家與 admin 同時完成認領
//  2. 斷線連鎖：admin 或玩家離開要關閉其他連線、移除房間、通知大廳
//  3. 降級：只剩一名玩家時房間轉為 custom，讓新玩家補位
//
// 設計方案：
//
//	✅ 有限狀態機 - waiting → startup → loading → running → finished，任何狀態 → aborted
//	✅ 房間層級互斥鎖 - 判斷「全員到齊」與建立引擎在同一個臨界區
//	✅ generation 計數 - 降級後重建的引擎與舊引擎的回呼互不干擾
//	✅ 鎖外 I/O - 廣播與關閉連線都在釋放鎖之後進行
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
)

// State 房間狀態
//
//	waiting → startup → loading → running → finished
//	   ↑                                ↓
//	custom ←──────── 玩家離開只剩一人 ──┘
//	任何狀態 → aborted
type State string

const (
	StateWaiting  State = "waiting"  // 等待玩家與 admin
	StateStartup  State = "startup"  // 全員到齊，建立模擬中
	StateLoading  State = "loading"  // 模擬已建立，等待 ready
	StateRunning  State = "running"  // 模擬進行中
	StateCustom   State = "custom"   // 開放補位
	StateFinished State = "finished" // 正常結束
	StateAborted  State = "aborted"  // 異常中止
)

// Terminal 是否為終止狀態
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAborted
}

// Room 遊戲房間
type Room struct {
	ID        string
	Mode      string
	AdminID   string
	Lobby     bool
	CreatedAt time.Time

	cfg config.Mode

	mu            sync.Mutex
	state         State
	admin         *session.Session
	adminAttached bool
	expected      []string
	players       map[string]*session.Session
	spectators    map[string]*session.Session
	engine        *sim.Engine
	generation    int
	endedAt       time.Time
	result        *sim.Result
}

func newRoom(id, adminID, mode string, cfg config.Mode, expected []string) *Room {
	return &Room{
		ID:         id,
		Mode:       mode,
		AdminID:    adminID,
		Lobby:      cfg.Lobby,
		CreatedAt:  time.Now(),
		cfg:        cfg,
		state:      StateWaiting,
		expected:   append([]string(nil), expected...),
		players:    make(map[string]*session.Session),
		spectators: make(map[string]*session.Session),
	}
}

// State 回傳目前狀態
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Generation 回傳引擎建立次數
func (r *Room) Generation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Engine 回傳目前的引擎，尚未建立時為 nil
func (r *Room) Engine() *sim.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Expected 回傳預期玩家
func (r *Room) Expected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.expected...)
}

// Players 回傳已連線的玩家（排序）
func (r *Room) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedNames(r.players)
}

// AdminAttached admin 是否已就位
func (r *Room) AdminAttached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminAttached
}

// Info 房間資訊（HTTP API 使用）
type Info struct {
	ID            string      `json:"room_id"`
	Mode          string      `json:"mode"`
	State         State       `json:"state"`
	Lobby         bool        `json:"lobby"`
	AdminAttached bool        `json:"admin_attached"`
	Expected      []string    `json:"expected_players"`
	Players       []string    `json:"players"`
	Spectators    []string    `json:"spectators"`
	Generation    int         `json:"generation"`
	CreatedAt     time.Time   `json:"created_at"`
	Result        *sim.Result `json:"result,omitempty"`
}

// Info 回傳房間資訊快照
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:            r.ID,
		Mode:          r.Mode,
		State:         r.state,
		Lobby:         r.Lobby,
		AdminAttached: r.adminAttached,
		Expected:      append([]string{}, r.expected...),
		Players:       sortedNames(r.players),
		Spectators:    sortedNames(r.spectators),
		Generation:    r.generation,
		CreatedAt:     r.CreatedAt,
		Result:        r.result,
	}
}

// Summary 大廳列表中的摘要
func (r *Room) Summary() broadcast.GameSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := string(r.state)
	if r.joinableLocked() {
		status = string(StateCustom)
	}
	return broadcast.GameSummary{
		ID:      r.ID,
		Mode:    r.Mode,
		Players: sortedNames(r.players),
		Status:  status,
	}
}

// joinableLocked 大廳房間在未滿且未結束時可加入
func (r *Room) joinableLocked() bool {
	if r.state.Terminal() {
		return false
	}
	if r.Lobby {
		return r.cfg.Capacity <= 0 || len(r.players) < r.cfg.Capacity
	}
	return r.state == StateCustom
}

// vacancyLocked custom 狀態下的空位數
func (r *Room) vacancyLocked() int {
	return r.cfg.Players - len(r.expected)
}

func (r *Room) isExpectedLocked(username string) bool {
	for _, name := range r.expected {
		if name == username {
			return true
		}
	}
	return false
}

func (r *Room) removeExpectedLocked(username string) {
	for i, name := range r.expected {
		if name == username {
			r.expected = append(r.expected[:i], r.expected[i+1:]...)
			return
		}
	}
}

// sessionsLocked 回傳房間內所有連線（except 除外）
func (r *Room) sessionsLocked(except *session.Session) []*session.Session {
	out := make([]*session.Session, 0, len(r.players)+len(r.spectators)+1)
	if r.admin != nil && r.admin != except {
		out = append(out, r.admin)
	}
	for _, s := range r.players {
		if s != except {
			out = append(out, s)
		}
	}
	for _, s := range r.spectators {
		if s != except {
			out = append(out, s)
		}
	}
	return out
}

func (r *Room) emptyLocked() bool {
	return r.admin == nil && len(r.players) == 0 && len(r.spectators) == 0
}

func sortedNames(m map[string]*session.Session) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
