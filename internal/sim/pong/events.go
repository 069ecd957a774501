package pong

// Update 每個 tick 的狀態差異（gu）
type Update struct {
	Type string             `json:"type"`
	BP   Vec                `json:"bp"`
	BS   Vec                `json:"bs"`
	PP   map[string]float64 `json:"pp"`
}

// Scored 得分但未結束
type Scored struct {
	Type  string `json:"type"`
	Msg   string `json:"msg"`
	Score string `json:"score"`
	Team  string `json:"team"`
}

// GameEnd 一側達到門檻
type GameEnd struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Score  string `json:"score"`
	Team   string `json:"team"`
}

// Teams 左右兩側的玩家
type Teams struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
}

// BallData 球的參數
type BallData struct {
	Radius float64 `json:"radius"`
	Speed  float64 `json:"speed"`
}

// PadelData 球拍的參數
type PadelData struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Speed  float64 `json:"speed"`
}

// Export 開局時送給客戶端的完整資料
type Export struct {
	GameMode string         `json:"game_mode"`
	Arena    Vec            `json:"arena"`
	Ball     BallData       `json:"ball"`
	Padel    PadelData      `json:"padel"`
	Teams    Teams          `json:"teams"`
	Score    map[string]int `json:"score"`
}
