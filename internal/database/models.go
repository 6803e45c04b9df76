package database

import "time"

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Thread struct {
	Id            int
	ExternalId    string
	PostId        int
	AuthorId      int
	ParticipantId int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReadState is the per (thread, user) membership row. Its existence is
// the source of truth for room membership; both rows are created in the
// same transaction as the thread itself.
type ReadState struct {
	ThreadId    int
	UserId      int
	LastReadSeq int64
	UpdatedAt   time.Time
	Thread      Thread
}

type Message struct {
	Id        int
	ThreadId  int
	UserId    int
	Content   string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateThreadParams struct {
	ExternalId    string
	PostId        int
	AuthorId      int
	ParticipantId int
}

type CreateMessageParams struct {
	ThreadId  int
	UserId    int
	Content   string
	CreatedAt time.Time
}
