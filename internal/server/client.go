package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mongmate/chatserver/internal/auth"
	"github.com/mongmate/chatserver/internal/database"
	"github.com/mongmate/chatserver/internal/membership"
	"github.com/mongmate/chatserver/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection. A connection starts
// unauthenticated; the first connect frame binds a principal to it for
// the connection's lifetime, and every other frame is rejected until
// then. The principal is only touched from the Read goroutine.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	principal  *auth.Principal
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		if msg.Connect != nil {
			c.handleConnect(&msg)
			continue
		}

		if c.principal == nil {
			c.queueMessage(ErrUnauthenticated(msg.Id))
			continue
		}
		msg.UserId = c.principal.UserId

		switch {
		case msg.Subscribe != nil:
			c.handleSubscribe(&msg)
		case msg.Publish != nil:
			c.handlePublish(&msg)
		case msg.Read != nil:
			c.handleRead(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) handleConnect(msg *ClientMessage) {
	if c.principal != nil {
		// a connection's principal is immutable once bound
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	principal, err := c.chatServer.auth.ValidateToken(msg.Connect.Token)
	if err != nil {
		c.chatServer.stats.Incr(stats.NumAuthFailures)
		c.queueMessage(ErrUnauthenticated(msg.Id))
		return
	}

	c.principal = &principal
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"user_id": principal.UserId}))
}

func (c *Client) handleSubscribe(msg *ClientMessage) {
	thread, err := c.chatServer.membership.AssertMember(msg.Subscribe.RoomId, msg.UserId)
	if err != nil {
		c.queueMessage(deniedMessage(msg.Id, err))
		return
	}

	msg.threadId = thread.Id
	c.routeToRoom(msg, msg.Subscribe.RoomId)
}

// handlePublish runs the send pipeline's per-sender half: membership
// and durable persistence happen here, concurrently across senders.
// Sequencing and fan-out happen in the room goroutine so dispatch
// order matches seq order.
func (c *Client) handlePublish(msg *ClientMessage) {
	if msg.Publish.Content == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	thread, err := c.chatServer.membership.AssertMember(msg.Publish.RoomId, msg.UserId)
	if err != nil {
		c.queueMessage(deniedMessage(msg.Id, err))
		return
	}

	if _, err := c.chatServer.db.CreateMessage(database.CreateMessageParams{
		ThreadId:  thread.Id,
		UserId:    msg.UserId,
		Content:   msg.Publish.Content,
		CreatedAt: msg.Timestamp,
	}); err != nil {
		c.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	msg.threadId = thread.Id
	c.routeToRoom(msg, msg.Publish.RoomId)
}

func (c *Client) handleRead(msg *ClientMessage) {
	thread, err := c.chatServer.membership.AssertMember(msg.Read.RoomId, msg.UserId)
	if err != nil {
		c.queueMessage(deniedMessage(msg.Id, err))
		return
	}

	ctx := context.Background()
	current, err := c.chatServer.roomState.CurrentSeq(ctx, msg.Read.RoomId)
	if err != nil {
		c.log.Println("CurrentSeq:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	// watermarks never run ahead of the room's counter
	seq := msg.Read.SeqId
	if seq > current {
		seq = current
	}
	if seq < 0 {
		seq = 0
	}

	if err := c.chatServer.roomState.SetLastRead(ctx, msg.Read.RoomId, msg.UserId, seq); err != nil {
		c.log.Println("SetLastRead:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	// the database row is a best-effort mirror of the watermark
	if err := c.chatServer.db.UpdateReadState(thread.Id, msg.UserId, seq); err != nil {
		c.log.Println("UpdateReadState:", err)
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"last_read_seq": seq}))
}

// routeToRoom forwards the frame to the room goroutine, going through
// the chat server when the room isn't loaded on this connection yet.
func (c *Client) routeToRoom(msg *ClientMessage, roomId string) {
	if r := c.getRoom(roomId); r != nil {
		select {
		case r.clientMsgChan <- msg:
		default:
			c.log.Printf("clientMsgChan full for room %q", r.externalId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	select {
	case c.chatServer.routeChan <- msg:
	default:
		c.log.Printf("routeChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func deniedMessage(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, membership.ErrRoomNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, membership.ErrNotMember):
		return ErrNotAuthorized(id)
	default:
		return ErrInternalError(id)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// stopClient is idempotent: both the server's shutdown path and the
// connection's own cleanup stop the client, in either order.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
		// run loop already exited, nothing to deregister from
	}
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientMessage{
			UserId: c.userId(),
			client: c,
		}
	}
}

func (c *Client) userId() int {
	if c.principal == nil {
		return 0
	}
	return c.principal.UserId
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
