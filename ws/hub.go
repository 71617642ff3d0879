package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/types"
)

const (
	maxMessageSize = 4096
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second
)

// Handler receives everything that happens on the hub's connections. All calls are made from the goroutine running
// Hub.Run, one at a time.
type Handler interface {
	Connect(conn uuid.UUID, p types.Participant)
	Dispatch(conn uuid.UUID, msg types.WebsocketMessage)
	Disconnect(conn uuid.UUID)
	Sweep() []string
}

type inbound struct {
	conn uuid.UUID
	msg  types.WebsocketMessage
}

// Hub owns all connections and the room groups. It serializes connects, inbound events, disconnects and room sweeps
// into a single event loop (Run), and delivers outbound events to the clients' send buffers.
type Hub struct {
	// Registered clients.
	clients map[uuid.UUID]*Client

	// Room id -> connections in that room.
	groups map[string]map[uuid.UUID]struct{}

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	inbound chan inbound
	done    chan struct{}

	sweepSpec string
	logger    hclog.Logger

	// mutex for manipulating the clients and groups
	sync.RWMutex
}

// NewHub creates a hub. sweepSpec is a cron spec for Handler.Sweep; empty disables sweeping.
func NewHub(sweepSpec string) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		groups:  make(map[string]map[uuid.UUID]struct{}),
		// unbuffered, so a client's events and its unregistration are seen in the order they were sent
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		sweepSpec:  sweepSpec,
		logger:     globals.AppLogger.Named("hub"),
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Run is the main hub event loop. It returns when ctx is cancelled, after closing all connections.
func (h *Hub) Run(ctx context.Context, handler Handler) {
	defer close(h.done)
	sweep := make(chan struct{}, 1)
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if h.sweepSpec != "" {
		_, err := cronRunner.AddFunc(h.sweepSpec, func() {
			select {
			case sweep <- struct{}{}:
			default:
			}
		})
		if err != nil {
			h.logger.Error("invalid sweep spec, rooms will not expire", "spec", h.sweepSpec, "error", err)
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	h.logger.Info("start hub run loop")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return

		case client := <-h.Register:
			h.Lock()
			h.clients[client.Id] = client
			h.Unlock()
			handler.Connect(client.Id, client.participant)

		case client := <-h.Unregister:
			h.Lock()
			_, ok := h.clients[client.Id]
			if ok {
				delete(h.clients, client.Id)
				for roomId := range h.groups {
					h.leave(roomId, client.Id)
				}
				close(client.Send)
			}
			h.Unlock()
			if ok {
				handler.Disconnect(client.Id)
			}

		case in := <-h.inbound:
			handler.Dispatch(in.conn, in.msg)

		case <-sweep:
			expired := handler.Sweep()
			if len(expired) > 0 {
				h.logger.Debug("sweep done", "closed", len(expired))
			}
		}
	}
}

// register hands c to the event loop. It returns false if the hub is no longer running.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(c *Client, msg types.WebsocketMessage) bool {
	select {
	case h.inbound <- inbound{conn: c.Id, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) closeAll() {
	h.Lock()
	defer h.Unlock()
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	h.groups = make(map[string]map[uuid.UUID]struct{})
}

// Join adds conn to the room's group.
func (h *Hub) Join(roomId string, conn uuid.UUID) {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	group, ok := h.groups[roomId]
	if !ok {
		group = make(map[uuid.UUID]struct{})
		h.groups[roomId] = group
	}
	group[conn] = struct{}{}
}

// Leave removes conn from the room's group.
func (h *Hub) Leave(roomId string, conn uuid.UUID) {
	h.Lock()
	defer h.Unlock()
	h.leave(roomId, conn)
}

func (h *Hub) leave(roomId string, conn uuid.UUID) {
	group, ok := h.groups[roomId]
	if !ok {
		return
	}
	delete(group, conn)
	if len(group) == 0 {
		delete(h.groups, roomId)
	}
}

// CloseRoom drops the room's group. The connections stay open.
func (h *Hub) CloseRoom(roomId string) {
	h.Lock()
	defer h.Unlock()
	delete(h.groups, roomId)
}

// EmitRoom sends the event to every connection in the room except the given one.
func (h *Hub) EmitRoom(roomId string, except uuid.UUID, event string, payload interface{}) {
	data, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for conn := range h.groups[roomId] {
		if conn == except {
			continue
		}
		h.send(conn, data)
	}
}

// Emit sends the event to a single connection.
func (h *Hub) Emit(conn uuid.UUID, event string, payload interface{}) {
	data, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	h.send(conn, data)
}

// send must be called with at least the read lock held, which guarantees that the Send channel is still open.
// A full send buffer means a stalled client; the message is dropped rather than blocking the caller.
func (h *Hub) send(conn uuid.UUID, data []byte) {
	client, ok := h.clients[conn]
	if !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("send buffer full, dropping message", "conn", conn, "user", client.participant.Id)
	}
}
