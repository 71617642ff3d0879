package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-versus/filter"
	"github.com/tcriess/lightspeed-versus/registry"
	"github.com/tcriess/lightspeed-versus/types"
)

var (
	alice = types.Participant{Id: "u1", Name: "Alice", Email: "alice@example.com"}
	bob   = types.Participant{Id: "u2", Name: "Bob", Email: "bob@example.com"}
	carol = types.Participant{Id: "u3", Name: "Carol"}

	fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
)

type emitted struct {
	Room    string
	Except  uuid.UUID
	Conn    uuid.UUID
	Event   string
	Payload interface{}
}

// fakeGateway records group membership and every emitted event.
type fakeGateway struct {
	sync.Mutex
	groups map[string]map[uuid.UUID]struct{}
	emits  []emitted
	closed []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{groups: make(map[string]map[uuid.UUID]struct{})}
}

func (g *fakeGateway) Join(roomId string, conn uuid.UUID) {
	g.Lock()
	defer g.Unlock()
	if _, ok := g.groups[roomId]; !ok {
		g.groups[roomId] = make(map[uuid.UUID]struct{})
	}
	g.groups[roomId][conn] = struct{}{}
}

func (g *fakeGateway) Leave(roomId string, conn uuid.UUID) {
	g.Lock()
	defer g.Unlock()
	delete(g.groups[roomId], conn)
	if len(g.groups[roomId]) == 0 {
		delete(g.groups, roomId)
	}
}

func (g *fakeGateway) CloseRoom(roomId string) {
	g.Lock()
	defer g.Unlock()
	delete(g.groups, roomId)
	g.closed = append(g.closed, roomId)
}

func (g *fakeGateway) EmitRoom(roomId string, except uuid.UUID, event string, payload interface{}) {
	g.Lock()
	defer g.Unlock()
	g.emits = append(g.emits, emitted{Room: roomId, Except: except, Event: event, Payload: payload})
}

func (g *fakeGateway) Emit(conn uuid.UUID, event string, payload interface{}) {
	g.Lock()
	defer g.Unlock()
	g.emits = append(g.emits, emitted{Conn: conn, Event: event, Payload: payload})
}

func (g *fakeGateway) reset() {
	g.Lock()
	defer g.Unlock()
	g.emits = nil
}

func (g *fakeGateway) events() []string {
	g.Lock()
	defer g.Unlock()
	events := make([]string, 0, len(g.emits))
	for _, e := range g.emits {
		events = append(events, e.Event)
	}
	return events
}

func (g *fakeGateway) find(event string) (emitted, bool) {
	g.Lock()
	defer g.Unlock()
	for _, e := range g.emits {
		if e.Event == event {
			return e, true
		}
	}
	return emitted{}, false
}

func (g *fakeGateway) inGroup(roomId string, conn uuid.UUID) bool {
	g.Lock()
	defer g.Unlock()
	_, ok := g.groups[roomId][conn]
	return ok
}

type fakeRecorder struct {
	sync.Mutex
	matches []*types.Match
	err     error
	block   chan struct{}
	onCall  func()
}

func (r *fakeRecorder) RecordMatch(ctx context.Context, m *types.Match) error {
	if r.onCall != nil {
		r.onCall()
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.Lock()
	defer r.Unlock()
	if r.err != nil {
		return r.err
	}
	r.matches = append(r.matches, m)
	return nil
}

type fixture struct {
	reg      *registry.Registry
	gw       *fakeGateway
	rec      *fakeRecorder
	c        *Coordinator
	a, b, cc uuid.UUID
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		reg: registry.New(),
		gw:  newFakeGateway(),
		rec: &fakeRecorder{},
		a:   uuid.New(),
		b:   uuid.New(),
		cc:  uuid.New(),
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	f.c = NewCoordinator(f.reg, f.gw, f.rec, opts)
	f.c.Connect(f.a, alice)
	f.c.Connect(f.b, bob)
	f.c.Connect(f.cc, carol)
	return f
}

func send(t *testing.T, c *Coordinator, conn uuid.UUID, event string, data string) {
	t.Helper()
	c.Dispatch(conn, types.WebsocketMessage{Event: event, Data: json.RawMessage(data)})
}

func TestCreateAndJoin(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))

	host, ok := f.reg.GetHost("r1")
	require.True(t, ok)
	assert.Equal(t, types.HostRecord{HostId: "u1", HostName: "Alice", HostEmail: "alice@example.com"}, host)
	assert.Empty(t, f.gw.events(), "createRoom sends nothing")
	assert.True(t, f.gw.inGroup("r1", f.a))

	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	assert.Equal(t, []string{types.EventPlayerJoined, types.EventHostInfo}, f.gw.events())

	joined, _ := f.gw.find(types.EventPlayerJoined)
	assert.Equal(t, "r1", joined.Room)
	assert.Equal(t, f.b, joined.Except)
	assert.Equal(t, types.PlayerJoined{PlayerId: "u2", PlayerName: "Bob", PlayerEmail: "bob@example.com"}, joined.Payload)

	info, _ := f.gw.find(types.EventHostInfo)
	assert.Equal(t, f.b, info.Conn)
	assert.Equal(t, host, info.Payload)

	roomId, _ := f.reg.GetMembership("u2")
	assert.Equal(t, "r1", roomId)
	assert.Equal(t, []string{"u1", "u2"}, f.reg.Members("r1"))
}

func TestJoinEmptyRoomBecomesHost(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))

	host, ok := f.reg.GetHost("r1")
	require.True(t, ok)
	assert.Equal(t, "u2", host.HostId)
	info, _ := f.gw.find(types.EventHostInfo)
	assert.Equal(t, "u2", info.Payload.(types.HostRecord).HostId)
}

func TestJoinTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	assert.Equal(t, []string{types.EventHostInfo}, f.gw.events())
	host, _ := f.reg.GetHost("r1")
	assert.Equal(t, "u1", host.HostId)
	assert.Equal(t, []string{"u1", "u2"}, f.reg.Members("r1"))
}

func TestCreateRoomReplacesHost(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.CreateRoom(f.b, "r1"))

	host, _ := f.reg.GetHost("r1")
	assert.Equal(t, "u2", host.HostId)
}

func TestHostDisconnectHandsOff(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	f.c.Disconnect(f.a)

	left, ok := f.gw.find(types.EventPlayerDisconnected)
	require.True(t, ok)
	assert.Equal(t, "r1", left.Room)
	assert.Equal(t, f.a, left.Except)
	assert.Equal(t, types.PlayerDisconnected{PlayerId: "u1", PlayerName: "Alice", IsHostDisconnected: true}, left.Payload)

	_, ok = f.reg.GetHost("r1")
	assert.False(t, ok)
	_, ok = f.reg.GetMembership("u1")
	assert.False(t, ok)
	assert.False(t, f.gw.inGroup("r1", f.a))
	_, ok = f.c.Context(f.a)
	assert.False(t, ok)

	// the next joiner takes over
	require.NoError(t, f.c.JoinRoom(f.cc, "r1"))
	host, _ := f.reg.GetHost("r1")
	assert.Equal(t, "u3", host.HostId)
}

func TestGuestDisconnectKeepsHost(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	f.c.Disconnect(f.b)
	left, ok := f.gw.find(types.EventPlayerDisconnected)
	require.True(t, ok)
	assert.False(t, left.Payload.(types.PlayerDisconnected).IsHostDisconnected)
	host, _ := f.reg.GetHost("r1")
	assert.Equal(t, "u1", host.HostId)
}

func TestDisconnectWithoutRoom(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Disconnect(f.a)
	f.c.Disconnect(f.a)
	assert.Empty(t, f.gw.events())
	rooms, hosted, members := f.reg.Stats()
	assert.Equal(t, []int{0, 0, 0}, []int{rooms, hosted, members})
}

func TestSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	require.NoError(t, f.c.JoinRoom(f.a, "r2"))
	assert.Equal(t, []string{types.EventPlayerDisconnected, types.EventPlayerJoined, types.EventHostInfo}, f.gw.events())
	left, _ := f.gw.find(types.EventPlayerDisconnected)
	assert.Equal(t, "r1", left.Room)
	assert.True(t, left.Payload.(types.PlayerDisconnected).IsHostDisconnected)

	assert.False(t, f.gw.inGroup("r1", f.a))
	assert.True(t, f.gw.inGroup("r2", f.a))
	_, ok := f.reg.GetHost("r1")
	assert.False(t, ok)
	roomId, _ := f.reg.GetMembership("u1")
	assert.Equal(t, "r2", roomId)
}

func TestPlayerReady(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	require.NoError(t, f.c.PlayerReady(f.b, "r1"))
	ready, ok := f.gw.find(types.EventOpponentReady)
	require.True(t, ok)
	assert.Equal(t, f.b, ready.Except)
	assert.Equal(t, types.OpponentReady{PlayerId: "u2", PlayerName: "Bob"}, ready.Payload)

	err := f.c.PlayerReady(f.cc, "r1")
	assert.True(t, errors.Is(err, ErrNotMember))
	err = f.c.PlayerReady(f.b, "r2")
	assert.True(t, errors.Is(err, ErrNotMember))
}

func TestGameStartHostOnly(t *testing.T) {
	f := newFixture(t, Options{EnforceHostActions: true})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	err := f.c.GameStart(f.b, "r1")
	assert.True(t, errors.Is(err, ErrNotHost))
	assert.Empty(t, f.gw.events())

	require.NoError(t, f.c.GameStart(f.a, "r1"))
	start, ok := f.gw.find(types.EventHostStartTheGame)
	require.True(t, ok)
	assert.Equal(t, "r1", start.Room)
	assert.Equal(t, uuid.Nil, start.Except, "the host receives the start event too")
}

func TestGameStartAnyMember(t *testing.T) {
	f := newFixture(t, Options{EnforceHostActions: false})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))

	require.NoError(t, f.c.GameStart(f.b, "r1"))
	err := f.c.GameStart(f.cc, "r1")
	assert.True(t, errors.Is(err, ErrNotMember))
}

func TestScoreUpdate(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	send(t, f.c, f.b, types.EventScoreUpdate, `{"roomId":"r1","score":42}`)
	update, ok := f.gw.find(types.EventOpponentScoreUpdate)
	require.True(t, ok)
	assert.Equal(t, "r1", update.Room)
	assert.Equal(t, f.b, update.Except)
	assert.Equal(t, types.OpponentScoreUpdate{
		PlayerId:   "u2",
		PlayerName: "Bob",
		Score:      42,
		Timestamp:  "2026-03-01T09:00:00.123Z",
	}, update.Payload)
}

func TestScoreUpdateInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	f.gw.reset()

	for _, data := range []string{
		`{"roomId":"r1","score":"42"}`,
		`{"roomId":"r1"}`,
		`{"score":42}`,
		`{"roomId":"r1","score":null}`,
		`"r1"`,
		`not json`,
	} {
		send(t, f.c, f.a, types.EventScoreUpdate, data)
	}
	assert.Empty(t, f.gw.events())
}

func TestScoreUpdateFilter(t *testing.T) {
	scoreFilter, err := filter.NewScoreFilter("Score >= 0 && Score <= 1000")
	require.NoError(t, err)
	f := newFixture(t, Options{ScoreFilter: scoreFilter})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	f.gw.reset()

	err = f.c.ScoreUpdate(f.a, types.ScoreUpdate{RoomId: "r1", Score: 5000})
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.Empty(t, f.gw.events())

	require.NoError(t, f.c.ScoreUpdate(f.a, types.ScoreUpdate{RoomId: "r1", Score: 500}))
	assert.Equal(t, []string{types.EventOpponentScoreUpdate}, f.gw.events())
}

const gameOverPayload = `{"roomId":"r1","winner":"u1","scores":{"player1":{"id":"u1","score":10},"player2":{"id":"u2","score":7}}}`

var wantEnded = types.GameEnded{
	Winner: "u1",
	Scores: types.Scores{
		Player1: types.PlayerScore{Id: "u1", Score: 10},
		Player2: types.PlayerScore{Id: "u2", Score: 7},
	},
}

func TestGameOverRecordsThenBroadcasts(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	var endedBeforeRecord bool
	f.rec.onCall = func() {
		_, endedBeforeRecord = f.gw.find(types.EventGameEnded)
	}
	send(t, f.c, f.a, types.EventGameOver, gameOverPayload)
	f.c.Wait()

	assert.False(t, endedBeforeRecord)
	require.Len(t, f.rec.matches, 1)
	m := f.rec.matches[0]
	assert.Equal(t, "r1", m.RoomId)
	assert.Equal(t, "u1", m.Winner)
	assert.Equal(t, 10.0, m.Player1Score)
	assert.Equal(t, 7.0, m.Player2Score)
	assert.NotEmpty(t, m.Id)
	assert.True(t, fixedNow.Equal(m.CreatedAt))

	ended, ok := f.gw.find(types.EventGameEnded)
	require.True(t, ok)
	assert.Equal(t, "r1", ended.Room)
	assert.Equal(t, uuid.Nil, ended.Except)
	assert.Equal(t, wantEnded, ended.Payload)
}

func TestGameOverBroadcastsWhenRecordingFails(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	f.rec.err = errors.New("disk full")

	require.NoError(t, f.c.GameOver(f.a, wantGameOver()))
	f.c.Wait()
	_, ok := f.gw.find(types.EventGameEnded)
	assert.True(t, ok)
}

func TestGameOverBroadcastsWhenRecordingTimesOut(t *testing.T) {
	f := newFixture(t, Options{RecordTimeout: 20 * time.Millisecond})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	f.rec.block = make(chan struct{})
	defer close(f.rec.block)

	start := time.Now()
	require.NoError(t, f.c.GameOver(f.a, wantGameOver()))
	f.c.Wait()
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
	_, ok := f.gw.find(types.EventGameEnded)
	assert.True(t, ok)
	assert.Empty(t, f.rec.matches)
}

func TestGameOverWithoutRecorder(t *testing.T) {
	gw := newFakeGateway()
	c := NewCoordinator(registry.New(), gw, nil, Options{Logger: hclog.NewNullLogger()})
	conn := uuid.New()
	c.Connect(conn, alice)
	require.NoError(t, c.GameOver(conn, wantGameOver()))
	assert.Equal(t, []string{types.EventGameEnded}, gw.events())
}

func TestGameOverAfterSenderDisconnected(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.rec.block = make(chan struct{})

	require.NoError(t, f.c.GameOver(f.a, wantGameOver()))
	f.c.Disconnect(f.a)
	close(f.rec.block)
	f.c.Wait()

	ended, ok := f.gw.find(types.EventGameEnded)
	require.True(t, ok)
	assert.Equal(t, "r1", ended.Room)
	assert.Equal(t, wantEnded, ended.Payload)
	assert.Len(t, f.rec.matches, 1)
}

func TestGameOverInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))

	for _, data := range []string{
		`{"winner":"u1","scores":{"player1":{"id":"u1","score":10},"player2":{"id":"u2","score":7}}}`,
		`{"roomId":"r1","winner":"u1","scores":{"player1":{"id":"u1","score":10}}}`,
		`{"roomId":"r1","winner":"u1","scores":{"player1":{"id":"u1","score":"10"},"player2":{"id":"u2","score":7}}}`,
		`{"roomId":"r1","winner":"u1","scores":{"player1":{"score":10},"player2":{"id":"u2","score":7}}}`,
		`[]`,
	} {
		send(t, f.c, f.a, types.EventGameOver, data)
	}
	f.c.Wait()
	assert.Empty(t, f.gw.events())
	assert.Empty(t, f.rec.matches)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	require.NoError(t, f.c.JoinRoom(f.b, "r1"))
	f.gw.reset()

	err := f.c.LeaveRoom(f.b, "r2")
	assert.True(t, errors.Is(err, ErrNotMember))

	require.NoError(t, f.c.LeaveRoom(f.b, "r1"))
	assert.Equal(t, []string{types.EventPlayerDisconnected}, f.gw.events())
	cc, ok := f.c.Context(f.b)
	require.True(t, ok, "the connection stays open")
	assert.Empty(t, cc.RoomId)
	assert.Equal(t, []string{"u1"}, f.reg.Members("r1"))
}

func TestSweep(t *testing.T) {
	now := fixedNow
	reg := registry.NewWithClock(func() time.Time { return now })
	gw := newFakeGateway()
	c := NewCoordinator(reg, gw, nil, Options{RoomTTL: 10 * time.Minute, Logger: hclog.NewNullLogger()})
	a, b := uuid.New(), uuid.New()
	c.Connect(a, alice)
	c.Connect(b, bob)
	require.NoError(t, c.CreateRoom(a, "idle"))
	now = now.Add(8 * time.Minute)
	require.NoError(t, c.CreateRoom(b, "busy"))
	now = now.Add(5 * time.Minute)

	assert.Equal(t, []string{"idle"}, c.Sweep())
	closed, ok := gw.find(types.EventRoomClosed)
	require.True(t, ok)
	assert.Equal(t, types.RoomClosed{RoomId: "idle", Reason: "idle"}, closed.Payload)
	assert.Equal(t, []string{"idle"}, gw.closed)

	cc, _ := c.Context(a)
	assert.Empty(t, cc.RoomId)
	cc, _ = c.Context(b)
	assert.Equal(t, "busy", cc.RoomId)

	// a swept member leaving later does not touch the registry
	gw.reset()
	c.Disconnect(a)
	assert.Empty(t, gw.events())
}

func TestSweepDisabled(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.c.CreateRoom(f.a, "r1"))
	assert.Empty(t, f.c.Sweep())
}

func TestDispatchRoomIdForms(t *testing.T) {
	f := newFixture(t, Options{})
	send(t, f.c, f.a, types.EventCreateRoom, `"r1"`)
	send(t, f.c, f.b, types.EventJoinRoom, `{"roomId":"r1"}`)
	assert.Equal(t, []string{"u1", "u2"}, f.reg.Members("r1"))

	f.gw.reset()
	send(t, f.c, f.cc, types.EventJoinRoom, `""`)
	send(t, f.c, f.cc, types.EventJoinRoom, `{"roomId":5}`)
	send(t, f.c, f.cc, types.EventJoinRoom, ``)
	send(t, f.c, f.cc, "fly", `"r1"`)
	assert.Empty(t, f.gw.events())
	_, ok := f.reg.GetMembership("u3")
	assert.False(t, ok)
}

func TestDispatchUnknownConnection(t *testing.T) {
	f := newFixture(t, Options{})
	send(t, f.c, uuid.New(), types.EventCreateRoom, `"r1"`)
	_, ok := f.reg.GetHost("r1")
	assert.False(t, ok)
}

func wantGameOver() types.GameOver {
	return types.GameOver{RoomId: "r1", Winner: wantEnded.Winner, Scores: wantEnded.Scores}
}
