package room

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// Releaser 釋放配對佇列中的保留（pending）狀態
type Releaser interface {
	Release(username string)
}

// Recorder 狀態與結果的非同步記錄，呼叫不可阻塞
type Recorder interface {
	RecordStatus(username string, status session.Status)
	RecordResult(roomID, mode string, players []string, result sim.Result)
}

// Options 房間註冊表的依賴與參數
type Options struct {
	Modes    map[string]config.Mode
	Factory  sim.Factory
	Sessions *session.Registry
	Hub      *broadcast.Hub
	Releaser Releaser
	Recorder Recorder
	Logger   *slog.Logger

	SweepInterval       time.Duration
	AdminAttachTimeout  time.Duration
	// PlayerAttachTimeout 配對房間等待玩家連入的上限，0 表示不限
	PlayerAttachTimeout time.Duration
	TerminalTTL         time.Duration
}

// Registry 房間註冊表
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	modes    map[string]config.Mode
	factory  sim.Factory
	sessions *session.Registry
	hub      *broadcast.Hub
	releaser Releaser
	recorder Recorder
	logger   *slog.Logger

	sweepInterval       time.Duration
	adminAttachTimeout  time.Duration
	playerAttachTimeout time.Duration
	terminalTTL         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry 創建房間註冊表
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		rooms:               make(map[string]*Room),
		modes:               opts.Modes,
		factory:             opts.Factory,
		sessions:            opts.Sessions,
		hub:                 opts.Hub,
		releaser:            opts.Releaser,
		recorder:            opts.Recorder,
		logger:              opts.Logger,
		sweepInterval:       opts.SweepInterval,
		adminAttachTimeout:  opts.AdminAttachTimeout,
		playerAttachTimeout: opts.PlayerAttachTimeout,
		terminalTTL:         opts.TerminalTTL,
		stopCh:              make(chan struct{}),
	}
	if r.releaser == nil {
		r.releaser = nopReleaser{}
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// SetReleaser 設定配對佇列（佇列與註冊表互相依賴，需在啟動前設定）
func (reg *Registry) SetReleaser(rel Releaser) {
	reg.releaser = rel
}

// Mode 回傳模式配置
func (reg *Registry) Mode(name string) (config.Mode, bool) {
	m, ok := reg.modes[name]
	return m, ok
}

// CreateRoom 創建房間
//
// 同一個 id 重複建立時（通知重送），若 admin 與模式相同則回傳既有房間。
func (reg *Registry) CreateRoom(id, adminID, mode string, expected []string) (*Room, error) {
	cfg, ok := reg.modes[mode]
	if !ok {
		return nil, apperrors.ErrUnknownMode.WithDetails(mode)
	}
	if len(expected) != cfg.Players || hasDuplicates(expected) {
		return nil, apperrors.ErrPlayerCountMismatch.WithDetails(
			fmt.Sprintf("mode %s needs %d distinct players, got %v", mode, cfg.Players, expected))
	}

	reg.mu.Lock()
	if existing, exists := reg.rooms[id]; exists {
		reg.mu.Unlock()
		if existing.AdminID == adminID && existing.Mode == mode {
			return existing, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "room id already in use").WithDetails(id)
	}
	room := newRoom(id, adminID, mode, cfg, expected)
	reg.rooms[id] = room
	reg.mu.Unlock()

	reg.logger.Info("房間已創建",
		"room_id", id,
		"mode", mode,
		"expected_players", expected)

	return room, nil
}

// GetRoom 查詢房間（不修改狀態）
func (reg *Registry) GetRoom(id string) (*Room, error) {
	reg.mu.RLock()
	room, exists := reg.rooms[id]
	reg.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(id)
	}
	return room, nil
}

// RemoveRoom 從註冊表移除房間（冪等）
func (reg *Registry) RemoveRoom(id string) {
	reg.mu.Lock()
	room, exists := reg.rooms[id]
	if exists {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	if !exists {
		return
	}

	room.mu.Lock()
	engine := room.engine
	room.mu.Unlock()
	if engine != nil {
		engine.Stop()
	}

	reg.logger.Info("房間已移除", "room_id", id)
}

// List 列出所有房間資訊（依建立時間排序）
func (reg *Registry) List() []Info {
	rooms := reg.snapshot()
	out := make([]Info, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Info())
	}
	return out
}

// Summaries 大廳房間列表
func (reg *Registry) Summaries() []broadcast.GameSummary {
	rooms := reg.snapshot()
	out := make([]broadcast.GameSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Summary())
	}
	return out
}

// ActiveRoom 回傳玩家目前所在（未終止）房間的 ID，玩家或觀戰者皆算
func (reg *Registry) ActiveRoom(username string) (string, bool) {
	for _, room := range reg.snapshot() {
		room.mu.Lock()
		_, isPlayer := room.players[username]
		_, isSpectator := room.spectators[username]
		terminal := room.state.Terminal()
		room.mu.Unlock()

		if !terminal && (isPlayer || isSpectator) {
			return room.ID, true
		}
	}
	return "", false
}

// Count 回傳房間數
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Stats 獲取統計資訊
func (reg *Registry) Stats() map[string]any {
	byState := make(map[State]int)
	byMode := make(map[string]int)
	players, spectators := 0, 0

	for _, room := range reg.snapshot() {
		info := room.Info()
		byState[info.State]++
		byMode[info.Mode]++
		players += len(info.Players)
		spectators += len(info.Spectators)
	}

	return map[string]any{
		"total_rooms":      reg.Count(),
		"total_players":    players,
		"total_spectators": spectators,
		"by_state":         byState,
		"by_mode":          byMode,
	}
}

func (reg *Registry) snapshot() []*Room {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

func (reg *Registry) lookupForClaim(roomID string) (*Room, error) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidClaim, "claim rejected")
	}
	return room, nil
}

// ClaimAdminSeat admin 認領座位
func (reg *Registry) ClaimAdminSeat(adminID string, s *session.Session, roomID string) (*Room, error) {
	room, err := reg.lookupForClaim(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if room.state.Terminal() {
		room.mu.Unlock()
		return nil, apperrors.ErrRoomClosed.WithDetails(roomID)
	}
	if room.Lobby || room.AdminID != adminID {
		room.mu.Unlock()
		return nil, apperrors.ErrAdminMismatch.WithDetails(roomID)
	}

	replaced := room.admin
	if replaced == s {
		replaced = nil
	}
	room.admin = s
	room.adminAttached = true
	reg.sessions.Attach(s, roomID, session.RoleAdmin)

	act := reg.maybeInstantiateLocked(room)
	engine := room.engine
	room.mu.Unlock()

	if replaced != nil {
		reg.replaceSession(replaced)
	}

	reg.logger.Info("admin 已就位", "room_id", roomID, "admin_id", adminID)

	reg.afterInstantiate(room, act)
	if act == nil && engine != nil {
		reg.sendState(s, room, broadcast.TypeExportStatus, engine)
	}
	return room, nil
}

// ClaimPlayerSeat 玩家認領座位
//
// 不在預期名單中的玩家成為觀戰者；custom 狀態下可補一個空位。
func (reg *Registry) ClaimPlayerSeat(username string, s *session.Session, roomID string) (*Room, error) {
	room, err := reg.lookupForClaim(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if room.state.Terminal() {
		room.mu.Unlock()
		return nil, apperrors.ErrRoomClosed.WithDetails(roomID)
	}
	if !room.adminAttached {
		room.mu.Unlock()
		return nil, apperrors.ErrAdminNotAttached.WithDetails(roomID)
	}

	var replaced *session.Session
	role := session.RolePlayer

	switch {
	case room.isExpectedLocked(username):
		if old := room.players[username]; old != nil && old != s {
			replaced = old
		}
		room.players[username] = s

	case room.state == StateCustom && !room.Lobby && room.vacancyLocked() > 0:
		// 補位：預期名單加入新玩家後重新判斷是否全員到齊
		room.expected = append(room.expected, username)
		room.players[username] = s
		reg.logger.Info("玩家補位", "room_id", roomID, "username", username)

	default:
		role = session.RoleSpectator
		if old := room.spectators[username]; old != nil && old != s {
			replaced = old
		}
		room.spectators[username] = s
	}
	reg.sessions.Attach(s, roomID, role)

	act := reg.maybeInstantiateLocked(room)
	engine := room.engine
	room.mu.Unlock()

	if replaced != nil {
		reg.replaceSession(replaced)
	}

	if role == session.RoleSpectator {
		reg.recorder.RecordStatus(username, session.StatusSpectate)
		reg.logger.Info("觀戰者加入", "room_id", roomID, "username", username)
	} else {
		reg.recorder.RecordStatus(username, session.StatusWaitingForPlayers)
		reg.logger.Info("玩家加入房間", "room_id", roomID, "username", username)
	}

	reg.afterInstantiate(room, act)
	if act == nil && engine != nil {
		reg.sendState(s, room, broadcast.TypeGameJoined, engine)
	}
	return room, nil
}

// Ready 玩家就緒，全員就緒時開始模擬（只會開始一次）
func (reg *Registry) Ready(s *session.Session) error {
	room, err := reg.GetRoom(s.RoomID())
	if err != nil {
		return err
	}

	room.mu.Lock()
	if room.players[s.Identity] != s {
		room.mu.Unlock()
		return apperrors.ErrNotAPlayer.WithDetails(s.Identity)
	}
	engine := room.engine
	if engine == nil || room.state != StateLoading {
		room.mu.Unlock()
		return nil
	}

	started := engine.MarkReady(s.Identity) && engine.Start()
	var players []string
	if started {
		room.state = StateRunning
		players = append(players, room.expected...)
	}
	room.mu.Unlock()

	if !started {
		return nil
	}

	for _, p := range players {
		reg.recorder.RecordStatus(p, session.StatusInGame)
	}
	reg.hub.Broadcast(room.ID, broadcast.NewGameStart())
	reg.logger.Info("模擬開始", "room_id", room.ID, "generation", room.Generation())
	return nil
}

// Input 將玩家輸入送進引擎緩衝
func (reg *Registry) Input(s *session.Session, in sim.Input) error {
	room, err := reg.GetRoom(s.RoomID())
	if err != nil {
		return err
	}

	room.mu.Lock()
	isPlayer := room.players[s.Identity] == s
	engine := room.engine
	state := room.state
	room.mu.Unlock()

	if !isPlayer {
		return apperrors.ErrNotAPlayer.WithDetails(s.Identity)
	}
	if engine == nil || state != StateRunning {
		return apperrors.ErrInvalidInput.WithDetails("game is not running")
	}

	in.Player = s.Identity
	return engine.Submit(in)
}

// Export 發送完整狀態給 admin
func (reg *Registry) Export(s *session.Session) error {
	room, err := reg.GetRoom(s.RoomID())
	if err != nil {
		return err
	}

	room.mu.Lock()
	isAdmin := room.admin == s
	engine := room.engine
	room.mu.Unlock()

	if !isAdmin {
		return apperrors.ErrAdminMismatch.WithDetails(room.ID)
	}
	if engine == nil {
		return apperrors.ErrInvalidInput.WithDetails("game not instantiated")
	}
	reg.sendState(s, room, broadcast.TypeExportStatus, engine)
	return nil
}

// instantiation 建立引擎後要在鎖外執行的動作
type instantiation struct {
	engine    *sim.Engine
	players   []string
	autoStart bool
	err       error
}

// maybeInstantiateLocked 全員到齊且 admin 就位時建立引擎
//
// 必須持有 room.mu。engine 非 nil 時直接返回，保證每個 generation 只建立一次。
func (reg *Registry) maybeInstantiateLocked(room *Room) *instantiation {
	if room.engine != nil || room.state.Terminal() {
		return nil
	}
	if !room.adminAttached || len(room.expected) == 0 || len(room.players) != len(room.expected) {
		return nil
	}

	room.state = StateStartup
	players := append([]string(nil), room.expected...)

	game, err := reg.factory(room.Mode, players)
	if err != nil {
		room.state = StateAborted
		room.endedAt = time.Now()
		return &instantiation{err: err}
	}

	room.generation++
	engine := sim.NewEngine(game, players, room.cfg.TickInterval, reg.hooks(room, room.generation), reg.logger.With("room_id", room.ID))
	room.engine = engine
	room.state = StateLoading

	act := &instantiation{engine: engine, players: players}
	if room.cfg.AutoStart && engine.Start() {
		room.state = StateRunning
		act.autoStart = true
	}
	return act
}

// afterInstantiate 引擎建立後的廣播與狀態記錄
func (reg *Registry) afterInstantiate(room *Room, act *instantiation) {
	if act == nil {
		return
	}
	if act.err != nil {
		reg.logger.Error("建立模擬失敗", "room_id", room.ID, "error", act.err)
		reg.teardown(room, nil, StateAborted)
		return
	}

	status := session.StatusLoadingGame
	if act.autoStart {
		status = session.StatusInGame
	}
	for _, p := range act.players {
		reg.recorder.RecordStatus(p, status)
	}

	reg.logger.Info("模擬已建立",
		"room_id", room.ID,
		"generation", room.Generation(),
		"players", act.players)

	state := act.engine.Snapshot()
	reg.hub.Broadcast(room.ID, broadcast.GameState{Type: broadcast.TypeGameStarted, GameID: room.ID, State: state})

	room.mu.Lock()
	admin := room.admin
	room.mu.Unlock()
	if admin != nil {
		if err := reg.hub.Send(admin, broadcast.GameState{Type: broadcast.TypeExportStatus, GameID: room.ID, State: state}); err != nil {
			reg.logger.Warn("投遞失敗", "room_id", room.ID, "error", err)
		}
	}

	if act.autoStart {
		reg.hub.Broadcast(room.ID, broadcast.NewGameStart())
	}
	if room.Lobby {
		reg.broadcastLobby()
	}
}

func (reg *Registry) sendState(s *session.Session, room *Room, eventType string, engine *sim.Engine) {
	ev := broadcast.GameState{Type: eventType, GameID: room.ID, PlayerID: s.Identity, State: engine.Snapshot()}
	if err := reg.hub.Send(s, ev); err != nil {
		reg.logger.Warn("投遞失敗", "room_id", room.ID, "session_id", s.ID, "error", err)
	}
}

// replaceSession 同一身分重新連線時關閉舊連線
func (reg *Registry) replaceSession(old *session.Session) {
	reg.sessions.Detach(old)
	_ = old.Close()
	reg.logger.Info("關閉舊連線", "session_id", old.ID, "identity", old.Identity)
}

// broadcastLobby 推送最新房間列表給所有連線
func (reg *Registry) broadcastLobby(except ...*session.Session) {
	reg.hub.BroadcastAll(broadcast.NewUpdateWaitingRoom(reg.Summaries()), except...)
}

func hasDuplicates(names []string) bool {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return true
		}
		seen[n] = true
	}
	return false
}

type nopReleaser struct{}

func (nopReleaser) Release(string) {}

type nopRecorder struct{}

func (nopRecorder) RecordStatus(string, session.Status)                {}
func (nopRecorder) RecordResult(string, string, []string, sim.Result) {}
