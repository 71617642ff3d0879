package types

// Outbound payloads. Field names follow the browser client's expectations.

type PlayerJoined struct {
	PlayerId    string `json:"playerId"`
	PlayerName  string `json:"playerName"`
	PlayerEmail string `json:"playerEmail"`
}

type OpponentReady struct {
	PlayerId   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type OpponentScoreUpdate struct {
	PlayerId   string  `json:"playerId"`
	PlayerName string  `json:"playerName"`
	Score      float64 `json:"score"`
	Timestamp  string  `json:"timestamp"` // ISO-8601, UTC
}

type PlayerDisconnected struct {
	PlayerId           string `json:"playerId"`
	PlayerName         string `json:"playerName"`
	IsHostDisconnected bool   `json:"isHostDisconnected"`
}

type GameEnded struct {
	Winner string `json:"winner"`
	Scores Scores `json:"scores"`
}

type RoomClosed struct {
	RoomId string `json:"roomId"`
	Reason string `json:"reason"`
}

// Inbound payloads.

type RoomRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
}

type ScoreUpdate struct {
	RoomId string  `json:"roomId" mapstructure:"roomId"`
	Score  float64 `json:"score" mapstructure:"score"`
}

type PlayerScore struct {
	Id    string  `json:"id" mapstructure:"id"`
	Score float64 `json:"score" mapstructure:"score"`
}

type Scores struct {
	Player1 PlayerScore `json:"player1" mapstructure:"player1"`
	Player2 PlayerScore `json:"player2" mapstructure:"player2"`
}

type GameOver struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
	Winner string `json:"winner" mapstructure:"winner"`
	Scores Scores `json:"scores" mapstructure:"scores"`
}
