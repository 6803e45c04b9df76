package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mongmate/chatserver/internal/stats"
	"github.com/mongmate/chatserver/internal/types"
)

const idleRoomTimeout = time.Second * 30

type exitReq struct {
	done chan bool
}

// Room serializes all sequencing and fan-out for one thread. Sequence
// numbers are issued and messages dispatched on a single goroutine, so
// every client observes messages in seq order.
type Room struct {
	id            int
	externalId    string
	cs            *ChatServer
	clientMsgChan chan *ClientMessage
	leaveChan     chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once no activity is left
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Subscribe != nil:
				r.handleSubscribe(msg)
			case msg.Publish != nil:
				r.sequenceAndBroadcast(msg)
			}
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.externalId)
			r.cs.unloadRoomChan <- r.externalId
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleSubscribe(msg *ClientMessage) {
	r.killTimer.Stop()
	r.addClient(msg.client)

	data := map[string]any{"room_id": r.externalId}
	if current, err := r.cs.roomState.CurrentSeq(context.Background(), r.externalId); err == nil {
		data["seq_id"] = current
	}

	msg.client.queueMessage(NoErrOK(msg.Id, data))
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	r.removeClient(leaveMsg.client)
}

// sequenceAndBroadcast issues the message's sequence number, caches it
// in the recent list and fans it out. The durable row was already
// written by the sender's goroutine; a store failure here burns the
// issued seq rather than risking an out-of-order retry.
func (r *Room) sequenceAndBroadcast(msg *ClientMessage) {
	ctx := context.Background()

	seq, err := r.cs.roomState.NextSeq(ctx, r.externalId)
	if err != nil {
		r.log.Println("NextSeq:", err)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	out := types.Message{
		SeqId:     seq,
		RoomId:    r.externalId,
		UserId:    msg.UserId,
		Content:   msg.Publish.Content,
		Timestamp: msg.Timestamp,
	}

	if err := r.cs.roomState.AppendRecent(ctx, r.externalId, out); err != nil {
		r.log.Println("AppendRecent:", err)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	r.cs.stats.Incr(stats.NumMessagesSent)
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Message: &out,
	})

	// a publish from an unsubscribed sender shouldn't pin the room
	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- true
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
