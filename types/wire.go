package types

import "encoding/json"

// Inbound events, sent by clients.
const (
	EventCreateRoom  = "createRoom"
	EventJoinRoom    = "joinRoom"
	EventPlayerReady = "playerReady"
	EventGameStart   = "gameStart"
	EventScoreUpdate = "scoreUpdate"
	EventGameOver    = "gameOver"
	EventLeaveRoom   = "leaveRoom"
)

// Outbound events, sent by the relay.
const (
	EventHostInfo            = "hostInfo"
	EventPlayerJoined        = "playerJoined"
	EventOpponentReady       = "opponentReady"
	EventHostStartTheGame    = "hostStartTheGame"
	EventOpponentScoreUpdate = "opponentScoreUpdate"
	EventPlayerDisconnected  = "playerDisconnected"
	EventGameEnded           = "gameEnded"
	EventRoomClosed          = "roomClosed"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewWebsocketMessage wraps payload into the wire envelope. A nil payload is encoded as JSON null.
func NewWebsocketMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}
