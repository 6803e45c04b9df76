package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Thread is a two-party conversation anchored to a post.
type Thread struct {
	Id            int       `json:"id"`
	ExternalId    string    `json:"external_id"`
	PostId        int       `json:"post_id"`
	AuthorId      int       `json:"author_id"`
	ParticipantId int       `json:"participant_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	SeqId     int64     `json:"seq_id"`
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomState is the per-user view of a room's read progress.
type RoomState struct {
	RoomId      string `json:"room_id"`
	CurrentSeq  int64  `json:"current_seq"`
	LastReadSeq int64  `json:"last_read_seq"`
	UnreadCount int64  `json:"unread_count"`
}

// RoomListItem is one entry in a user's room list, enriched with read
// progress and the most recent message for display.
type RoomListItem struct {
	RoomId      string     `json:"room_id"`
	Title       string     `json:"title"`
	CurrentSeq  int64      `json:"current_seq"`
	LastReadSeq int64      `json:"last_read_seq"`
	UnreadCount int64      `json:"unread_count"`
	LastMessage *Message   `json:"last_message,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}
