package broadcast

// 下行事件類型
const (
	TypeWaitingRoom         = "waiting_room"
	TypeUpdateWaitingRoom   = "update_waiting_room"
	TypeGameStarted         = "game_started"
	TypeGameJoined          = "game_joined"
	TypeGameStart           = "game_start"
	TypeExportStatus        = "export_status"
	TypePlayerDisconnected  = "player_disconnected"
	TypeReturnToWaitingRoom = "return_to_waiting_room"
	TypeMatchFound          = "match_found"
	TypeMatchRejected       = "match_rejected"
	TypeQueueJoined         = "queue_joined"
	TypeQueueLeft           = "queue_left"
	TypeError               = "error"
)

// GameSummary 大廳中單一房間的摘要
type GameSummary struct {
	ID      string   `json:"id"`
	Mode    string   `json:"mode"`
	Players []string `json:"players"`
	Status  string   `json:"status"`
}

// WaitingRoom 進入大廳時的房間列表
type WaitingRoom struct {
	Type  string        `json:"type"`
	Games []GameSummary `json:"games"`
}

// NewWaitingRoom 創建 waiting_room 事件
func NewWaitingRoom(games []GameSummary) WaitingRoom {
	return WaitingRoom{Type: TypeWaitingRoom, Games: nonNil(games)}
}

// NewUpdateWaitingRoom 創建 update_waiting_room 事件
func NewUpdateWaitingRoom(games []GameSummary) WaitingRoom {
	return WaitingRoom{Type: TypeUpdateWaitingRoom, Games: nonNil(games)}
}

// GameState 帶有遊戲快照的事件（game_started、game_joined、export_status）
type GameState struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId,omitempty"`
	State    any    `json:"state"`
}

// GameStart 所有玩家就緒，開始模擬
type GameStart struct {
	Type string `json:"type"`
}

// NewGameStart 創建 game_start 事件
func NewGameStart() GameStart {
	return GameStart{Type: TypeGameStart}
}

// PlayerDisconnected 玩家離線通知
type PlayerDisconnected struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

// NewPlayerDisconnected 創建 player_disconnected 事件
func NewPlayerDisconnected(playerID string) PlayerDisconnected {
	return PlayerDisconnected{Type: TypePlayerDisconnected, PlayerID: playerID}
}

// Message 只帶文字訊息的事件（return_to_waiting_room、error、match_rejected）
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewReturnToWaitingRoom 創建 return_to_waiting_room 事件
func NewReturnToWaitingRoom(message string) Message {
	return Message{Type: TypeReturnToWaitingRoom, Message: message}
}

// NewError 創建 error 事件
func NewError(message string) Message {
	return Message{Type: TypeError, Message: message}
}

// NewMatchRejected 創建 match_rejected 事件
func NewMatchRejected(reason string) Message {
	return Message{Type: TypeMatchRejected, Message: reason}
}

// QueueStatus 佇列狀態回覆（queue_joined、queue_left）
type QueueStatus struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// MatchFound 配對成功，客戶端應連到 gameId 房間
type MatchFound struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
	Mode   string `json:"mode"`
}

// NewMatchFound 創建 match_found 事件
func NewMatchFound(gameID, mode string) MatchFound {
	return MatchFound{Type: TypeMatchFound, GameID: gameID, Mode: mode}
}

func nonNil(games []GameSummary) []GameSummary {
	if games == nil {
		return []GameSummary{}
	}
	return games
}
