package room

import (
	"fmt"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
)

// Disconnect 處理連線中斷
//
// 斷線連鎖規則：
//   - 觀戰者：只解除綁定
//   - admin：整個房間拆除
//   - 玩家且剛好剩一名玩家在線：房間降級為 custom
//   - 其他玩家斷線：整個房間拆除
//   - 大廳房間：玩家離開遊戲，房間清空時移除
func (reg *Registry) Disconnect(s *session.Session) {
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	room, err := reg.GetRoom(roomID)
	if err != nil {
		reg.sessions.Detach(s)
		return
	}

	room.mu.Lock()

	switch {
	case room.state.Terminal():
		reg.detachLocked(room, s)
		empty := room.emptyLocked()
		room.mu.Unlock()
		reg.sessions.Detach(s)
		if empty {
			reg.RemoveRoom(room.ID)
		}

	case room.spectators[s.Identity] == s:
		delete(room.spectators, s.Identity)
		room.mu.Unlock()
		reg.sessions.Detach(s)
		reg.recorder.RecordStatus(s.Identity, session.StatusInactive)
		reg.logger.Info("觀戰者離開", "room_id", roomID, "username", s.Identity)

	case room.admin == s:
		room.mu.Unlock()
		reg.logger.Info("admin 斷線，拆除房間", "room_id", roomID)
		reg.teardown(room, s, StateAborted)

	case room.players[s.Identity] == s:
		if room.Lobby {
			reg.leaveLobbyLocked(room, s)
			return
		}
		remaining := len(room.players) - 1
		if remaining == 1 {
			reg.demoteLocked(room, s)
			return
		}
		room.mu.Unlock()
		reg.logger.Info("玩家斷線，拆除房間", "room_id", roomID, "username", s.Identity)
		reg.teardown(room, s, StateAborted)

	default:
		// 已被取代的舊連線
		room.mu.Unlock()
		reg.sessions.Detach(s)
	}
}

func (reg *Registry) detachLocked(room *Room, s *session.Session) {
	if room.admin == s {
		room.admin = nil
	}
	if room.players[s.Identity] == s {
		delete(room.players, s.Identity)
	}
	if room.spectators[s.Identity] == s {
		delete(room.spectators, s.Identity)
	}
}

// demoteLocked 房間降級為 custom，停止目前的引擎並空出座位
//
// 進入時持有 room.mu，返回前釋放。
func (reg *Registry) demoteLocked(room *Room, s *session.Session) {
	username := s.Identity

	if room.engine != nil {
		room.engine.Stop()
		room.engine = nil
	}
	delete(room.players, username)
	room.removeExpectedLocked(username)
	room.state = StateCustom
	remaining := sortedNames(room.players)
	room.mu.Unlock()

	reg.sessions.Detach(s)
	reg.recorder.RecordStatus(username, session.StatusInactive)
	reg.releaser.Release(username)
	for _, p := range remaining {
		reg.recorder.RecordStatus(p, session.StatusWaitingForPlayers)
	}

	reg.hub.Broadcast(room.ID, broadcast.NewPlayerDisconnected(username))
	reg.broadcastLobby(s)

	reg.logger.Info("房間降級為 custom",
		"room_id", room.ID,
		"departed", username,
		"remaining", remaining)
}

// leaveLobbyLocked 大廳房間的玩家離開
//
// 進入時持有 room.mu，返回前釋放。
func (reg *Registry) leaveLobbyLocked(room *Room, s *session.Session) {
	username := s.Identity
	delete(room.players, username)
	room.removeExpectedLocked(username)
	engine := room.engine
	empty := len(room.players) == 0
	if empty {
		room.state = StateAborted
		room.endedAt = time.Now()
		room.engine = nil
	}
	room.mu.Unlock()

	reg.sessions.Detach(s)
	reg.recorder.RecordStatus(username, session.StatusInactive)

	if engine != nil {
		if empty {
			engine.Stop()
		} else {
			engine.RemovePlayer(username)
		}
	}

	if empty {
		reg.logger.Info("大廳房間已清空", "room_id", room.ID)
		reg.RemoveRoom(room.ID)
	} else {
		reg.hub.Broadcast(room.ID, broadcast.NewPlayerDisconnected(username))
	}
	reg.broadcastLobby(s)
}

// teardown 拆除房間：停止引擎、強制關閉其他連線、移除房間、通知大廳
//
// departing 為觸發拆除的連線，可為 nil。
func (reg *Registry) teardown(room *Room, departing *session.Session, state State) {
	room.mu.Lock()
	if room.state != StateFinished {
		room.state = state
	}
	if room.endedAt.IsZero() {
		room.endedAt = time.Now()
	}
	engine := room.engine
	room.engine = nil
	others := room.sessionsLocked(departing)
	players := append([]string(nil), room.expected...)
	room.admin = nil
	clear(room.players)
	clear(room.spectators)
	room.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}

	if departing != nil {
		reg.sessions.Detach(departing)
	}
	for _, other := range others {
		reg.sessions.Detach(other)
		_ = other.Close()
	}

	reg.RemoveRoom(room.ID)

	for _, p := range players {
		reg.recorder.RecordStatus(p, session.StatusInactive)
		reg.releaser.Release(p)
	}

	reg.broadcastLobby(departing)

	reg.logger.Info("房間已拆除",
		"room_id", room.ID,
		"state", state,
		"closed_sessions", len(others))
}

// hooks 綁定特定 generation 的引擎回呼
func (reg *Registry) hooks(room *Room, generation int) sim.Hooks {
	return sim.Hooks{
		OnTick: func(out sim.Outcome) {
			reg.onTick(room, generation, out)
		},
		OnFault: func(err error) {
			if !reg.current(room, generation) {
				return
			}
			reg.logger.Error("模擬錯誤，中止房間", "room_id", room.ID, "error", err)
			reg.teardown(room, nil, StateAborted)
		},
	}
}

// current 引擎的 generation 是否仍是房間目前的 generation
func (reg *Registry) current(room *Room, generation int) bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.generation == generation && room.engine != nil && !room.state.Terminal()
}

func (reg *Registry) onTick(room *Room, generation int, out sim.Outcome) {
	if !reg.current(room, generation) {
		return
	}

	for _, ev := range out.Events {
		reg.hub.Broadcast(room.ID, ev)
	}

	for _, e := range out.Eliminated {
		reg.eliminate(room, e)
	}

	if out.Final {
		reg.finish(room, generation, out.Result)
	}
}

// eliminate 被淘汰的玩家回到大廳
func (reg *Registry) eliminate(room *Room, e sim.Elimination) {
	room.mu.Lock()
	s := room.players[e.Player]
	delete(room.players, e.Player)
	room.removeExpectedLocked(e.Player)
	engine := room.engine
	room.mu.Unlock()

	if engine != nil {
		engine.RemovePlayer(e.Player)
	}
	reg.recorder.RecordStatus(e.Player, session.StatusInactive)

	if s == nil {
		return
	}
	reg.sessions.Detach(s)
	if err := reg.hub.Send(s, broadcast.NewReturnToWaitingRoom(fmt.Sprintf("Score final : %d", e.Score))); err != nil {
		reg.logger.Warn("投遞失敗", "room_id", room.ID, "username", e.Player, "error", err)
	}
	if err := reg.hub.Send(s, broadcast.NewWaitingRoom(reg.Summaries())); err != nil {
		reg.logger.Warn("投遞失敗", "room_id", room.ID, "username", e.Player, "error", err)
	}

	reg.logger.Info("玩家被淘汰", "room_id", room.ID, "username", e.Player, "score", e.Score)
}

// finish 遊戲正常結束
//
// 房間保留到所有連線離開或 terminal TTL 到期。
func (reg *Registry) finish(room *Room, generation int, result *sim.Result) {
	room.mu.Lock()
	if room.generation != generation || room.state.Terminal() {
		room.mu.Unlock()
		return
	}
	room.state = StateFinished
	room.endedAt = time.Now()
	room.result = result
	room.engine = nil
	players := append([]string(nil), room.expected...)
	room.mu.Unlock()

	for _, p := range players {
		reg.recorder.RecordStatus(p, session.StatusInactive)
		reg.releaser.Release(p)
	}
	if result != nil {
		reg.recorder.RecordResult(room.ID, room.Mode, players, *result)
	}

	reg.broadcastLobby()

	reg.logger.Info("遊戲結束", "room_id", room.ID, "players", players)
}
