package server

import (
	"log"
	"sync"

	"github.com/mongmate/chatserver/internal/auth"
	"github.com/mongmate/chatserver/internal/database"
	"github.com/mongmate/chatserver/internal/membership"
	"github.com/mongmate/chatserver/internal/roomstate"
	"github.com/mongmate/chatserver/internal/stats"
)

type ChatServer struct {
	log        *log.Logger
	db         database.ChatRepository
	auth       *auth.Authenticator
	membership *membership.Authority
	roomState  roomstate.Store
	stats      stats.StatsProvider

	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	routeChan      chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, authenticator *auth.Authenticator,
	authority *membership.Authority, store roomstate.Store, sp stats.StatsProvider) (*ChatServer, error) {
	sp.RegisterMetric(stats.NumActiveClients)
	sp.RegisterMetric(stats.NumActiveRooms)
	sp.RegisterMetric(stats.NumMessagesSent)
	sp.RegisterMetric(stats.NumAuthFailures)

	return &ChatServer{
		log:            logger,
		db:             db,
		auth:           authenticator,
		membership:     authority,
		roomState:      store,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		routeChan:      make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.routeChan:
			cs.routeMessage(msg)
		case client := <-cs.RegisterChan:
			cs.log.Println("adding connection")
			cs.addClient(client)
			cs.stats.Incr(stats.NumActiveClients)
		case client := <-cs.deRegisterChan:
			cs.log.Println("removing connection")
			cs.removeClient(client)
			cs.stats.Decr(stats.NumActiveClients)
		case id := <-cs.unloadRoomChan:
			if r, ok := cs.rooms[id]; ok {
				cs.unloadRoom(id)
				done := make(chan bool)
				r.exit <- exitReq{done: done}
				<-done
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				cs.log.Println("shutting down room", r.externalId)
				done := make(chan bool)
				r.exit <- exitReq{done: done}
				<-done
			}

			close(cs.done)
			return
		}
	}
}

// routeMessage forwards a frame to its room's goroutine, loading the
// room first if it isn't resident. Membership was already checked by
// the sending client's goroutine, so the room is known to exist.
func (cs *ChatServer) routeMessage(msg *ClientMessage) {
	roomId := msg.roomId()
	if roomId == "" {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	room, ok := cs.rooms[roomId]
	if !ok {
		room = cs.loadRoom(roomId, msg.threadId)
	}

	select {
	case room.clientMsgChan <- msg:
	default:
		cs.log.Printf("clientMsgChan full on room %q", room.externalId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (cs *ChatServer) loadRoom(externalId string, threadId int) *Room {
	room := &Room{
		id:            threadId,
		externalId:    externalId,
		cs:            cs,
		clientMsgChan: make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
	}

	cs.rooms[externalId] = room
	cs.stats.Incr(stats.NumActiveRooms)
	go room.start()

	return room
}

func (m *ClientMessage) roomId() string {
	switch {
	case m.Subscribe != nil:
		return m.Subscribe.RoomId
	case m.Publish != nil:
		return m.Publish.RoomId
	}

	return ""
}

// RegisterClient hands a newly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) unloadRoom(roomId string) {
	if r, ok := cs.rooms[roomId]; ok {
		cs.log.Printf("removing room %q", r.externalId)
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.NumActiveRooms)
	}
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	<-cs.done
}
