package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-versus/types"
)

// Gateway delivers events to connections, either to one connection or to the group of connections that joined a
// room. Implementations must be safe for concurrent use.
type Gateway interface {
	Join(roomId string, conn uuid.UUID)
	Leave(roomId string, conn uuid.UUID)
	CloseRoom(roomId string)
	// EmitRoom sends to every connection in the room except the given one (uuid.Nil excludes nobody).
	EmitRoom(roomId string, except uuid.UUID, event string, payload interface{})
	Emit(conn uuid.UUID, event string, payload interface{})
}

// Recorder persists finished matches.
type Recorder interface {
	RecordMatch(context.Context, *types.Match) error
}

// ConnectionContext is what the coordinator knows about one open connection.
type ConnectionContext struct {
	Id          uuid.UUID
	Participant types.Participant
	RoomId      string // empty while not in a room
}
