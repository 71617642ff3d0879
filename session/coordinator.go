package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-versus/filter"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/registry"
	"github.com/tcriess/lightspeed-versus/types"
)

const (
	timestampLayout      = "2006-01-02T15:04:05.000Z07:00"
	defaultRecordTimeout = 5 * time.Second
	closeReasonIdle      = "idle"
)

type Options struct {
	// RecordTimeout bounds how long gameEnded waits for the recorder.
	RecordTimeout time.Duration
	// RoomTTL is the idle time after which Sweep closes a room. Zero disables sweeping.
	RoomTTL time.Duration
	// EnforceHostActions restricts gameStart to the room's host.
	EnforceHostActions bool
	ScoreFilter        *filter.ScoreFilter
	Logger             hclog.Logger
	Now                func() time.Time
}

// Coordinator implements the room protocol on top of a Registry and a Gateway.
//
// All methods except Wait must be called from a single goroutine (the hub's event loop). Recording a finished match is
// the only work that leaves that goroutine; it only touches the Gateway and the Recorder.
type Coordinator struct {
	registry *registry.Registry
	gateway  Gateway
	recorder Recorder
	filter   *filter.ScoreFilter
	logger   hclog.Logger
	now      func() time.Time

	recordTimeout      time.Duration
	roomTTL            time.Duration
	enforceHostActions bool

	conns   map[uuid.UUID]*ConnectionContext
	pending sync.WaitGroup
}

// NewCoordinator creates a Coordinator. recorder may be nil, in which case finished matches are only broadcast.
func NewCoordinator(reg *registry.Registry, gateway Gateway, recorder Recorder, opts Options) *Coordinator {
	c := &Coordinator{
		registry:           reg,
		gateway:            gateway,
		recorder:           recorder,
		filter:             opts.ScoreFilter,
		logger:             opts.Logger,
		now:                opts.Now,
		recordTimeout:      opts.RecordTimeout,
		roomTTL:            opts.RoomTTL,
		enforceHostActions: opts.EnforceHostActions,
		conns:              make(map[uuid.UUID]*ConnectionContext),
	}
	if c.logger == nil {
		c.logger = globals.AppLogger.Named("session")
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.recordTimeout <= 0 {
		c.recordTimeout = defaultRecordTimeout
	}
	return c
}

// Connect registers a verified connection. It is not in any room yet.
func (c *Coordinator) Connect(conn uuid.UUID, p types.Participant) {
	c.conns[conn] = &ConnectionContext{Id: conn, Participant: p}
	c.logger.Info("connected", "conn", conn, "user", p.Id, "name", p.Name)
}

// Context returns a copy of the connection's context.
func (c *Coordinator) Context(conn uuid.UUID) (ConnectionContext, bool) {
	cc, ok := c.conns[conn]
	if !ok {
		return ConnectionContext{}, false
	}
	return *cc, true
}

// Disconnect removes the connection. If it was in a room, the remaining members are told and the host slot is freed
// when the leaving participant held it.
func (c *Coordinator) Disconnect(conn uuid.UUID) {
	cc, ok := c.conns[conn]
	if !ok {
		c.logger.Warn("disconnect of unknown connection", "conn", conn)
		return
	}
	delete(c.conns, conn)
	if cc.RoomId == "" {
		c.logger.Debug("no room found for disconnected user", "conn", conn, "user", cc.Participant.Id)
		return
	}
	c.leave(cc)
}

// Dispatch decodes and handles one inbound event. Invalid events are logged and dropped; nothing is sent back.
func (c *Coordinator) Dispatch(conn uuid.UUID, msg types.WebsocketMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered from panic while handling event", "conn", conn, "event", msg.Event, "panic", r)
		}
	}()
	err := c.dispatch(conn, msg)
	if err != nil {
		c.logger.Warn("dropping event", "conn", conn, "event", msg.Event, "error", err)
	}
}

func (c *Coordinator) dispatch(conn uuid.UUID, msg types.WebsocketMessage) error {
	switch msg.Event {
	case types.EventCreateRoom, types.EventJoinRoom, types.EventPlayerReady, types.EventGameStart, types.EventLeaveRoom:
		roomId, err := decodeRoomId(msg.Data)
		if err != nil {
			return err
		}
		switch msg.Event {
		case types.EventCreateRoom:
			return c.CreateRoom(conn, roomId)
		case types.EventJoinRoom:
			return c.JoinRoom(conn, roomId)
		case types.EventPlayerReady:
			return c.PlayerReady(conn, roomId)
		case types.EventGameStart:
			return c.GameStart(conn, roomId)
		default:
			return c.LeaveRoom(conn, roomId)
		}

	case types.EventScoreUpdate:
		update, err := decodeScoreUpdate(msg.Data)
		if err != nil {
			return err
		}
		return c.ScoreUpdate(conn, update)

	case types.EventGameOver:
		gameOver, err := decodeGameOver(msg.Data)
		if err != nil {
			return err
		}
		return c.GameOver(conn, gameOver)
	}
	return fmt.Errorf("%q: %w", msg.Event, ErrUnknownEvent)
}

func (c *Coordinator) lookup(conn uuid.UUID) (*ConnectionContext, error) {
	cc, ok := c.conns[conn]
	if !ok {
		return nil, fmt.Errorf("%s: %w", conn, ErrUnknownConnection)
	}
	return cc, nil
}

// CreateRoom puts the sender into roomId and makes them the host, replacing any previous host.
func (c *Coordinator) CreateRoom(conn uuid.UUID, roomId string) error {
	cc, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.enter(cc, roomId)
	host := c.registry.SetHost(roomId, cc.Participant)
	c.logger.Info("room created", "room", roomId, "host", host.HostId)
	return nil
}

// JoinRoom puts the sender into roomId, making them the host if the room has none, and sends them the host record.
// The other members are notified unless the sender was already in the room.
func (c *Coordinator) JoinRoom(conn uuid.UUID, roomId string) error {
	cc, err := c.lookup(conn)
	if err != nil {
		return err
	}
	rejoin := cc.RoomId == roomId
	c.enter(cc, roomId)
	host := c.registry.SetHostIfAbsent(roomId, cc.Participant)
	if !rejoin {
		p := cc.Participant
		c.gateway.EmitRoom(roomId, cc.Id, types.EventPlayerJoined, types.PlayerJoined{
			PlayerId:    p.Id,
			PlayerName:  p.Name,
			PlayerEmail: p.Email,
		})
		c.logger.Info("player joined", "room", roomId, "user", p.Id, "host", host.HostId)
	}
	c.gateway.Emit(cc.Id, types.EventHostInfo, host)
	return nil
}

// PlayerReady tells the other members that the sender is ready.
func (c *Coordinator) PlayerReady(conn uuid.UUID, roomId string) error {
	cc, err := c.member(conn, roomId)
	if err != nil {
		return err
	}
	c.registry.Touch(roomId)
	c.gateway.EmitRoom(roomId, cc.Id, types.EventOpponentReady, types.OpponentReady{
		PlayerId:   cc.Participant.Id,
		PlayerName: cc.Participant.Name,
	})
	return nil
}

// GameStart tells every member of the room, including the sender, that the game starts.
func (c *Coordinator) GameStart(conn uuid.UUID, roomId string) error {
	cc, err := c.member(conn, roomId)
	if err != nil {
		return err
	}
	if c.enforceHostActions {
		host, ok := c.registry.GetHost(roomId)
		if !ok || host.HostId != cc.Participant.Id {
			return fmt.Errorf("user %s in room %s: %w", cc.Participant.Id, roomId, ErrNotHost)
		}
	}
	c.registry.Touch(roomId)
	c.gateway.EmitRoom(roomId, uuid.Nil, types.EventHostStartTheGame, nil)
	c.logger.Info("game started", "room", roomId, "by", cc.Participant.Id)
	return nil
}

// ScoreUpdate relays the sender's score to the other members of update.RoomId, stamped with the current time.
func (c *Coordinator) ScoreUpdate(conn uuid.UUID, update types.ScoreUpdate) error {
	cc, err := c.lookup(conn)
	if err != nil {
		return err
	}
	if update.RoomId == "" {
		return fmt.Errorf("missing room id: %w", ErrInvalidPayload)
	}
	p := cc.Participant
	ok, err := c.filter.Accept(filter.Env{
		RoomId: update.RoomId,
		Player: filter.Player{Id: p.Id, Name: p.Name, Email: p.Email},
		Score:  update.Score,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("score %v rejected by filter %q: %w", update.Score, c.filter, ErrInvalidPayload)
	}
	c.registry.Touch(update.RoomId)
	c.gateway.EmitRoom(update.RoomId, cc.Id, types.EventOpponentScoreUpdate, types.OpponentScoreUpdate{
		PlayerId:   p.Id,
		PlayerName: p.Name,
		Score:      update.Score,
		Timestamp:  c.now().UTC().Format(timestampLayout),
	})
	return nil
}

// GameOver records the match and then broadcasts gameEnded to the whole room. Recording happens off the event loop
// and is bounded by the record timeout; gameEnded is sent whether or not it succeeded.
func (c *Coordinator) GameOver(conn uuid.UUID, gameOver types.GameOver) error {
	cc, err := c.lookup(conn)
	if err != nil {
		return err
	}
	if err := validateGameOver(gameOver); err != nil {
		return err
	}
	match, err := types.NewMatch(gameOver, c.now())
	if err != nil {
		return err
	}
	c.registry.Touch(gameOver.RoomId)
	ended := types.GameEnded{Winner: gameOver.Winner, Scores: gameOver.Scores}
	c.logger.Info("game over", "room", gameOver.RoomId, "winner", gameOver.Winner, "reported_by", cc.Participant.Id, "match", match.Id)
	if c.recorder == nil {
		c.gateway.EmitRoom(gameOver.RoomId, uuid.Nil, types.EventGameEnded, ended)
		return nil
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.record(match); err != nil {
			c.logger.Error("could not record match", "room", match.RoomId, "match", match.Id, "error", err)
		}
		c.gateway.EmitRoom(match.RoomId, uuid.Nil, types.EventGameEnded, ended)
	}()
	return nil
}

// LeaveRoom takes the sender out of roomId as if they had disconnected, but keeps the connection.
func (c *Coordinator) LeaveRoom(conn uuid.UUID, roomId string) error {
	cc, err := c.member(conn, roomId)
	if err != nil {
		return err
	}
	c.leave(cc)
	return nil
}

// Sweep closes every room that has been idle for longer than the room TTL. Members receive roomClosed and are no
// longer in any room afterwards.
func (c *Coordinator) Sweep() []string {
	if c.roomTTL <= 0 {
		return nil
	}
	expired := c.registry.Expire(c.roomTTL)
	for _, roomId := range expired {
		c.gateway.EmitRoom(roomId, uuid.Nil, types.EventRoomClosed, types.RoomClosed{RoomId: roomId, Reason: closeReasonIdle})
		for _, cc := range c.conns {
			if cc.RoomId == roomId {
				cc.RoomId = ""
			}
		}
		c.gateway.CloseRoom(roomId)
		c.logger.Info("closed idle room", "room", roomId, "ttl", c.roomTTL)
	}
	return expired
}

// Wait blocks until all matches handed to the recorder are done.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

func (c *Coordinator) member(conn uuid.UUID, roomId string) (*ConnectionContext, error) {
	cc, err := c.lookup(conn)
	if err != nil {
		return nil, err
	}
	if cc.RoomId != roomId {
		return nil, fmt.Errorf("user %s in room %s: %w", cc.Participant.Id, roomId, ErrNotMember)
	}
	return cc, nil
}

// enter moves cc into roomId, leaving its previous room first.
func (c *Coordinator) enter(cc *ConnectionContext, roomId string) {
	if cc.RoomId != "" && cc.RoomId != roomId {
		c.leave(cc)
	}
	c.gateway.Join(roomId, cc.Id)
	c.registry.SetMembership(cc.Participant.Id, roomId)
	cc.RoomId = roomId
}

func (c *Coordinator) leave(cc *ConnectionContext) {
	roomId := cc.RoomId
	p := cc.Participant
	isHost := false
	if host, ok := c.registry.GetHost(roomId); ok && host.HostId == p.Id {
		c.registry.ClearHost(roomId)
		isHost = true
	}
	c.registry.ClearMembership(p.Id)
	c.gateway.Leave(roomId, cc.Id)
	c.gateway.EmitRoom(roomId, cc.Id, types.EventPlayerDisconnected, types.PlayerDisconnected{
		PlayerId:           p.Id,
		PlayerName:         p.Name,
		IsHostDisconnected: isHost,
	})
	cc.RoomId = ""
	c.logger.Info("player left", "room", roomId, "user", p.Id, "was_host", isHost)
}

func (c *Coordinator) record(match *types.Match) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.recordTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.recorder.RecordMatch(ctx, match)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("recording match %s: %w", match.Id, ctx.Err())
	}
}
