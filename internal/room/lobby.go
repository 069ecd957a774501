package room

import (
	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// CreateLobbyRoom 大廳模式由玩家自行開房（start_game）
//
// 大廳房間沒有外部 admin，建立時即視為 admin 已就位；建立者直接認領座位。
func (reg *Registry) CreateLobbyRoom(mode string, s *session.Session) (*Room, error) {
	cfg, ok := reg.modes[mode]
	if !ok {
		return nil, apperrors.ErrUnknownMode.WithDetails(mode)
	}
	if !cfg.Lobby {
		return nil, apperrors.ErrInvalidInput.WithDetails("mode " + mode + " is not a lobby mode")
	}
	if s.RoomID() != "" {
		return nil, apperrors.ErrAlreadyActive.WithDetails(s.Identity)
	}

	room := newRoom(uuid.New().String(), "", mode, cfg, []string{s.Identity})
	room.adminAttached = true

	reg.mu.Lock()
	reg.rooms[room.ID] = room
	reg.mu.Unlock()

	reg.logger.Info("大廳房間已創建", "room_id", room.ID, "mode", mode, "creator", s.Identity)

	if _, err := reg.ClaimPlayerSeat(s.Identity, s, room.ID); err != nil {
		reg.RemoveRoom(room.ID)
		return nil, err
	}
	return room, nil
}

// JoinLobbyRoom 加入進行中的大廳房間（join_game）
func (reg *Registry) JoinLobbyRoom(roomID string, s *session.Session) (*Room, error) {
	room, err := reg.lookupForClaim(roomID)
	if err != nil {
		return nil, err
	}
	if s.RoomID() != "" {
		return nil, apperrors.ErrAlreadyActive.WithDetails(s.Identity)
	}

	room.mu.Lock()
	if !room.Lobby || !room.joinableLocked() {
		room.mu.Unlock()
		return nil, apperrors.ErrRoomClosed.WithDetails(roomID)
	}
	if _, exists := room.players[s.Identity]; exists {
		room.mu.Unlock()
		return nil, apperrors.ErrAlreadyActive.WithDetails(s.Identity)
	}

	engine := room.engine
	if engine != nil {
		if err := engine.AddPlayer(s.Identity); err != nil {
			room.mu.Unlock()
			return nil, err
		}
	}
	room.expected = append(room.expected, s.Identity)
	room.players[s.Identity] = s
	reg.sessions.Attach(s, roomID, session.RolePlayer)

	act := reg.maybeInstantiateLocked(room)
	room.mu.Unlock()

	reg.logger.Info("玩家加入大廳房間", "room_id", roomID, "username", s.Identity)

	if act != nil {
		reg.afterInstantiate(room, act)
		return room, nil
	}

	reg.recorder.RecordStatus(s.Identity, session.StatusInGame)
	if engine != nil {
		reg.sendState(s, room, broadcast.TypeGameJoined, engine)
	}
	reg.broadcastLobby()
	return room, nil
}

// SendLobby 發送大廳房間列表給單一連線（waiting_room）
func (reg *Registry) SendLobby(s *session.Session) error {
	return reg.hub.Send(s, broadcast.NewWaitingRoom(reg.Summaries()))
}
