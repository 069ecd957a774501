package session

// Status 玩家在系統中的狀態，會同步到狀態儲存
type Status string

const (
	StatusInactive          Status = "inactive"
	StatusInQueue           Status = "in_queue"
	StatusPending           Status = "pending"
	StatusWaitingForPlayers Status = "waiting_for_players"
	StatusLoadingGame       Status = "loading_game"
	StatusInGame            Status = "in_game"
	StatusSpectate          Status = "spectate"
)

// Active 是否為不可再次排隊的狀態
func (s Status) Active() bool {
	return s != StatusInactive && s != StatusSpectate && s != ""
}
