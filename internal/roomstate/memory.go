package roomstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/mongmate/chatserver/internal/types"
)

// MemoryStore is an in-process Store for development and tests. It
// keeps the same semantics as RedisStore: counters issue atomically,
// recent lists are newest-first and bounded, watermarks are stored
// verbatim.
type MemoryStore struct {
	mu       sync.Mutex
	seqs     map[string]int64
	recent   map[string][]types.Message
	lastRead map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seqs:     make(map[string]int64),
		recent:   make(map[string][]types.Message),
		lastRead: make(map[string]int64),
	}
}

func readKey(roomId string, userId int) string {
	return fmt.Sprintf("%s/%d", roomId, userId)
}

func (s *MemoryStore) NextSeq(_ context.Context, roomId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[roomId]++
	return s.seqs[roomId], nil
}

func (s *MemoryStore) CurrentSeq(_ context.Context, roomId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seqs[roomId], nil
}

func (s *MemoryStore) AppendRecent(_ context.Context, roomId string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]types.Message{msg}, s.recent[roomId]...)
	if len(list) > maxRecent {
		list = list[:maxRecent]
	}
	s.recent[roomId] = list

	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, roomId string, limit int) ([]types.Message, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.recent[roomId]
	if limit > len(list) {
		limit = len(list)
	}

	// The list is newest-first; return oldest to newest.
	messages := make([]types.Message, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		messages = append(messages, list[i])
	}

	return messages, nil
}

func (s *MemoryStore) LastRead(_ context.Context, roomId string, userId int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRead[readKey(roomId, userId)], nil
}

func (s *MemoryStore) LastReadIfPresent(_ context.Context, roomId string, userId int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.lastRead[readKey(roomId, userId)]
	return seq, ok, nil
}

func (s *MemoryStore) SetLastRead(_ context.Context, roomId string, userId int, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRead[readKey(roomId, userId)] = seq
	return nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, roomId string, userId int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return unread(s.seqs[roomId], s.lastRead[readKey(roomId, userId)]), nil
}
