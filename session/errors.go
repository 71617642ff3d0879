package session

import "errors"

// Reasons for dropping an inbound event. None of them is reported to the client; they are logged at the dispatch
// boundary and the connection stays open.
var (
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotMember         = errors.New("not a member of the room")
	ErrNotHost           = errors.New("not the host of the room")
)
