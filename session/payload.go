package session

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-versus/types"
)

// decodeRoomId accepts either a bare JSON string or an object with a roomId property.
func decodeRoomId(data json.RawMessage) (string, error) {
	var roomId string
	if err := json.Unmarshal(data, &roomId); err != nil {
		req := types.RoomRequest{}
		if _, err := decodeObject(data, &req); err != nil {
			return "", err
		}
		roomId = req.RoomId
	}
	if roomId == "" {
		return "", fmt.Errorf("missing room id: %w", ErrInvalidPayload)
	}
	return roomId, nil
}

func decodeScoreUpdate(data json.RawMessage) (types.ScoreUpdate, error) {
	update := types.ScoreUpdate{}
	raw, err := decodeObject(data, &update)
	if err != nil {
		return update, err
	}
	if update.RoomId == "" {
		return update, fmt.Errorf("missing room id: %w", ErrInvalidPayload)
	}
	if !isNumber(raw, "score") {
		return update, fmt.Errorf("score is not a number: %w", ErrInvalidPayload)
	}
	return update, nil
}

func decodeGameOver(data json.RawMessage) (types.GameOver, error) {
	gameOver := types.GameOver{}
	raw, err := decodeObject(data, &gameOver)
	if err != nil {
		return gameOver, err
	}
	for _, player := range []string{"player1", "player2"} {
		scores, _ := raw["scores"].(map[string]interface{})
		playerScore, _ := scores[player].(map[string]interface{})
		if !isNumber(playerScore, "score") {
			return gameOver, fmt.Errorf("%s score is not a number: %w", player, ErrInvalidPayload)
		}
	}
	return gameOver, validateGameOver(gameOver)
}

func validateGameOver(gameOver types.GameOver) error {
	if gameOver.RoomId == "" {
		return fmt.Errorf("missing room id: %w", ErrInvalidPayload)
	}
	if gameOver.Scores.Player1.Id == "" || gameOver.Scores.Player2.Id == "" {
		return fmt.Errorf("missing player id in scores: %w", ErrInvalidPayload)
	}
	return nil
}

// decodeObject unmarshals a JSON object and decodes it into out. Types are not coerced: a string where a number
// is expected is an error.
func decodeObject(data json.RawMessage, out interface{}) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidPayload)
	}
	err = mapstructure.Decode(raw, out)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidPayload)
	}
	return raw, nil
}

func isNumber(raw map[string]interface{}, key string) bool {
	_, ok := raw[key].(float64)
	return ok
}
