package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-versus/types"
)

const (
	sendChannelSize = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Id uuid.UUID

	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Only the hub closes it.
	Send chan []byte

	participant types.Participant
}

func NewClient(hub *Hub, conn *websocket.Conn, p types.Participant) *Client {
	return &Client{
		Id:          uuid.New(),
		hub:         hub,
		conn:        conn,
		Send:        make(chan []byte, sendChannelSize),
		participant: p,
	}
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Info("ws closed unexpected", "conn", c.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		err = json.Unmarshal(raw, &message)
		if err != nil || message.Event == "" {
			c.hub.logger.Warn("could not unmarshal ws message, skipping", "conn", c.Id, "error", err)
			continue
		}
		if !c.hub.dispatch(c, message) {
			return
		}
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.hub.logger.Debug("could not write to ws connection, exiting write loop", "conn", c.Id, "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("could not send ping message, exiting write loop", "conn", c.Id)
				return
			}
		}
	}
}
