package area

// PlayerState 玩家狀態
type PlayerState struct {
	ID       string         `json:"id"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Score    int            `json:"score"`
	Radius   float64        `json:"radius"`
	PowerUps []*PowerUpKind `json:"powerUps"`
	Shielded bool           `json:"shielded"`
	Boosted  bool           `json:"boosted"`
}

// State 完整遊戲狀態
type State struct {
	MapWidth  float64       `json:"mapWidth"`
	MapHeight float64       `json:"mapHeight"`
	MaxFood   int           `json:"maxFood"`
	Players   []PlayerState `json:"players"`
	Food      []Food        `json:"food"`
	PowerUps  []PowerUp     `json:"powerUps"`
}

// Update 每個 tick 的玩家位置
type Update struct {
	Type    string        `json:"type"`
	Players []PlayerState `json:"players"`
}

// FoodUpdate 食物集合變動
type FoodUpdate struct {
	Type string `json:"type"`
	Food []Food `json:"food"`
}

// PowerUpEvent 道具生成或被撿起
type PowerUpEvent struct {
	Type     string    `json:"type"`
	PlayerID string    `json:"playerId,omitempty"`
	PowerUp  PowerUp   `json:"power_up"`
	PowerUps []PowerUp `json:"power_ups"`
}

// PlayerEaten 玩家被吃掉
type PlayerEaten struct {
	Type        string        `json:"type"`
	PlayerID    string        `json:"playerId"`
	PlayerEaten string        `json:"player_eaten"`
	Players     []PlayerState `json:"players"`
}

// GameEnd 只剩一名玩家
type GameEnd struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Winner string `json:"winner"`
}
