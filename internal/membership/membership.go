// Package membership answers the single question "may this user act in
// this room". A user is a member of a thread iff their read-state row
// exists; the rows are created alongside the thread and never removed.
package membership

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/mongmate/chatserver/internal/database"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("not a member of this room")
)

type Authority struct {
	db  database.ChatRepository
	log *log.Logger
}

func NewAuthority(db database.ChatRepository, logger *log.Logger) *Authority {
	return &Authority{
		db:  db,
		log: logger,
	}
}

// AssertMember resolves the room by its external id and verifies the
// user's membership. It returns the thread so callers don't have to
// look it up twice.
func (a *Authority) AssertMember(externalId string, userId int) (database.Thread, error) {
	thread, err := a.db.GetThreadByExternalId(externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Thread{}, ErrRoomNotFound
		}
		return database.Thread{}, fmt.Errorf("failed to resolve room %q: %w", externalId, err)
	}

	if !a.db.ReadStateExists(thread.Id, userId) {
		return database.Thread{}, ErrNotMember
	}

	return thread, nil
}

// ResolveRoom looks up a thread without a membership check, for
// operations open to any authenticated caller.
func (a *Authority) ResolveRoom(externalId string) (database.Thread, error) {
	thread, err := a.db.GetThreadByExternalId(externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Thread{}, ErrRoomNotFound
		}
		return database.Thread{}, fmt.Errorf("failed to resolve room %q: %w", externalId, err)
	}

	return thread, nil
}

// ListThreadsFor returns every read-state row for the user, one per
// room they belong to.
func (a *Authority) ListThreadsFor(userId int) ([]database.ReadState, error) {
	states, err := a.db.ListReadStatesByUser(userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for user %d: %w", userId, err)
	}

	return states, nil
}
