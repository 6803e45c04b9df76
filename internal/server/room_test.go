package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongmate/chatserver/internal/database"
	"github.com/mongmate/chatserver/internal/stats"
	"github.com/mongmate/chatserver/internal/testutil"
)

func newTestRoom(t *testing.T, cs *ChatServer, externalId string) *Room {
	t.Helper()

	r := &Room{
		id:            1,
		externalId:    externalId,
		cs:            cs,
		clientMsgChan: make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           testutil.TestLogger(t),
		killTimer:     time.NewTimer(idleRoomTimeout),
		exit:          make(chan exitReq),
	}

	return r
}

func Test_sequenceAndBroadcast(t *testing.T) {
	mockDb := &database.MockChatRepository{}
	sp := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, mockDb, sp)
	defer sp.AssertExpectations(t)

	sp.On("Incr", stats.NumMessagesSent).Once()

	r := newTestRoom(t, cs, "room-1")

	sender := NewClient(nil, cs, testutil.TestLogger(t))
	other := NewClient(nil, cs, testutil.TestLogger(t))
	r.clients[sender] = struct{}{}
	r.clients[other] = struct{}{}

	msg := &ClientMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Publish: &Publish{RoomId: "room-1", Content: "hello"},
		UserId:  7,
		client:  sender,
	}

	r.sequenceAndBroadcast(msg)

	resp := waitForMessage(t, sender)
	require.NotNil(t, resp.Response, "expected sender's first frame to be a response")
	assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode, "expected publish to be accepted")

	broadcast := waitForMessage(t, sender)
	require.NotNil(t, broadcast.Message, "expected sender to receive the dispatched message")
	assert.Equal(t, int64(1), broadcast.Message.SeqId, "expected the first message to carry seq 1")
	assert.Equal(t, "hello", broadcast.Message.Content, "expected message content to match")
	assert.Equal(t, 7, broadcast.Message.UserId, "expected message sender to match")

	observed := waitForMessage(t, other)
	require.NotNil(t, observed.Message, "expected other client to receive the dispatched message")
	assert.Equal(t, int64(1), observed.Message.SeqId, "expected the same seq on every client")

	ctx := context.Background()
	seq, err := cs.roomState.CurrentSeq(ctx, "room-1")
	require.NoError(t, err, "expected no error reading current seq")
	assert.Equal(t, int64(1), seq, "expected room counter to be at 1")

	recent, err := cs.roomState.RecentMessages(ctx, "room-1", 50)
	require.NoError(t, err, "expected no error reading recent messages")
	require.Len(t, recent, 1, "expected the message to be cached")
	assert.Equal(t, int64(1), recent[0].SeqId, "expected cached message to carry its seq")

	// the other participant hasn't read anything yet
	count, err := cs.roomState.UnreadCount(ctx, "room-1", 8)
	require.NoError(t, err, "expected no error computing unread count")
	assert.Equal(t, int64(1), count, "expected one unread message for the other participant")
}

func Test_sequenceAndBroadcast_Ordering(t *testing.T) {
	mockDb := &database.MockChatRepository{}
	sp := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, mockDb, sp)
	defer sp.AssertExpectations(t)

	sp.On("Incr", stats.NumMessagesSent).Twice()

	r := newTestRoom(t, cs, "room-1")

	alice := NewClient(nil, cs, testutil.TestLogger(t))
	bob := NewClient(nil, cs, testutil.TestLogger(t))
	observer := NewClient(nil, cs, testutil.TestLogger(t))
	r.clients[alice] = struct{}{}
	r.clients[bob] = struct{}{}
	r.clients[observer] = struct{}{}

	// the room goroutine handles publishes one at a time, so two
	// near-simultaneous sends get consecutive seqs in handling order
	r.sequenceAndBroadcast(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
		Publish:     &Publish{RoomId: "room-1", Content: "first"},
		UserId:      7,
		client:      alice,
	})
	r.sequenceAndBroadcast(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2, Timestamp: Now()},
		Publish:     &Publish{RoomId: "room-1", Content: "second"},
		UserId:      8,
		client:      bob,
	})

	first := waitForMessage(t, observer)
	require.NotNil(t, first.Message, "expected observer's first frame to be a message")
	assert.Equal(t, int64(1), first.Message.SeqId, "expected first dispatched message to carry seq 1")
	assert.Equal(t, "first", first.Message.Content, "expected dispatch order to match seq order")

	second := waitForMessage(t, observer)
	require.NotNil(t, second.Message, "expected observer's second frame to be a message")
	assert.Equal(t, int64(2), second.Message.SeqId, "expected second dispatched message to carry seq 2")
	assert.Equal(t, "second", second.Message.Content, "expected dispatch order to match seq order")
}

func Test_handleSubscribe(t *testing.T) {
	mockDb := &database.MockChatRepository{}
	sp := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, mockDb, sp)

	r := newTestRoom(t, cs, "room-1")
	c := NewClient(nil, cs, testutil.TestLogger(t))

	r.handleSubscribe(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
		Subscribe:   &Subscribe{RoomId: "room-1"},
		UserId:      7,
		client:      c,
	})

	assert.Contains(t, r.clients, c, "expected client to be added to the room")
	assert.NotNil(t, c.getRoom("room-1"), "expected room to be tracked on the client")

	resp := waitForMessage(t, c)
	require.NotNil(t, resp.Response, "expected a response frame")
	assert.Equal(t, 1, resp.Id, "expected response id to match")
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected subscribe to succeed")
	assert.Equal(t, "room-1", resp.Response.Data["room_id"], "expected room id in the response data")
	assert.Equal(t, int64(0), resp.Response.Data["seq_id"], "expected current seq in the response data")
}

func Test_removeClient(t *testing.T) {
	mockDb := &database.MockChatRepository{}
	sp := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, mockDb, sp)

	r := newTestRoom(t, cs, "room-1")
	c := NewClient(nil, cs, testutil.TestLogger(t))

	r.addClient(c)
	require.Contains(t, r.clients, c, "expected client to be in the room")

	r.removeClient(c)
	assert.NotContains(t, r.clients, c, "expected client to be removed from the room")
	assert.Nil(t, c.getRoom("room-1"), "expected room to be dropped from the client")

	// removing an unknown client is a no-op
	r.removeClient(c)
}

func Test_handleRoomExit(t *testing.T) {
	mockDb := &database.MockChatRepository{}
	sp := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, mockDb, sp)

	r := newTestRoom(t, cs, "room-1")
	c := NewClient(nil, cs, testutil.TestLogger(t))
	r.addClient(c)

	done := make(chan bool, 1)
	r.handleRoomExit(exitReq{done: done})

	assert.Nil(t, c.getRoom("room-1"), "expected room to be dropped from clients on exit")

	select {
	case <-done:
		// exit acknowledged
	default:
		t.Error("expected exit to be acknowledged")
	}
}
