package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"gorm.io/datatypes"
)

// Match is the durable outcome of a finished game.
type Match struct {
	Id           string         `json:"id" gorm:"primaryKey" hash:"ignore"`
	RoomId       string         `json:"roomId" gorm:"index"`
	Player1Id    string         `json:"player1Id"`
	Player1Score float64        `json:"player1Score"`
	Player2Id    string         `json:"player2Id"`
	Player2Score float64        `json:"player2Score"`
	Winner       string         `json:"winner"`
	Scores       datatypes.JSON `json:"scores" hash:"ignore"`
	CreatedAt    time.Time      `json:"createdAt" gorm:"index"`
}

// NewMatch builds a Match from a gameOver payload and assigns its id.
func NewMatch(gameOver GameOver, created time.Time) (*Match, error) {
	scores, err := json.Marshal(gameOver.Scores)
	if err != nil {
		return nil, err
	}
	m := &Match{
		RoomId:       gameOver.RoomId,
		Player1Id:    gameOver.Scores.Player1.Id,
		Player1Score: gameOver.Scores.Player1.Score,
		Player2Id:    gameOver.Scores.Player2.Id,
		Player2Score: gameOver.Scores.Player2.Score,
		Winner:       gameOver.Winner,
		Scores:       datatypes.JSON(scores),
		CreatedAt:    created.UTC(),
	}
	if err := m.CreateId(); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateId sets Id to the hash of the match contents.
func (m *Match) CreateId() error {
	hash, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", hash)
	return nil
}
