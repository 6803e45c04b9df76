package roomstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mongmate/chatserver/internal/types"
)

// RedisStore implements Store on Redis: an INCR counter per room, an
// LPUSH+LTRIM list of recent messages, and one key per (room, user)
// read watermark.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func seqKey(roomId string) string {
	return fmt.Sprintf("chat:%s:seq", roomId)
}

func messagesKey(roomId string) string {
	return fmt.Sprintf("chat:%s:messages", roomId)
}

func lastReadKey(roomId string, userId int) string {
	return fmt.Sprintf("chat:%s:read:%d", roomId, userId)
}

func (s *RedisStore) NextSeq(ctx context.Context, roomId string) (int64, error) {
	seq, err := s.client.Incr(ctx, seqKey(roomId)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr seq for room %q: %v", ErrUnavailable, roomId, err)
	}

	return seq, nil
}

func (s *RedisStore) CurrentSeq(ctx context.Context, roomId string) (int64, error) {
	seq, err := s.client.Get(ctx, seqKey(roomId)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get seq for room %q: %v", ErrUnavailable, roomId, err)
	}

	return seq, nil
}

func (s *RedisStore) AppendRecent(ctx context.Context, roomId string, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := messagesKey(roomId)

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, 0, maxRecent-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: append message to room %q: %v", ErrUnavailable, roomId, err)
	}

	return nil
}

func (s *RedisStore) RecentMessages(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	limit = clampLimit(limit)

	vals, err := s.client.LRange(ctx, messagesKey(roomId), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range messages for room %q: %v", ErrUnavailable, roomId, err)
	}

	// The list is newest-first; return oldest to newest.
	messages := make([]types.Message, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var msg types.Message
		if err := json.Unmarshal([]byte(vals[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func (s *RedisStore) LastRead(ctx context.Context, roomId string, userId int) (int64, error) {
	seq, err := s.client.Get(ctx, lastReadKey(roomId, userId)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get last read for room %q user %d: %v", ErrUnavailable, roomId, userId, err)
	}

	return seq, nil
}

func (s *RedisStore) LastReadIfPresent(ctx context.Context, roomId string, userId int) (int64, bool, error) {
	seq, err := s.client.Get(ctx, lastReadKey(roomId, userId)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get last read for room %q user %d: %v", ErrUnavailable, roomId, userId, err)
	}

	return seq, true, nil
}

func (s *RedisStore) SetLastRead(ctx context.Context, roomId string, userId int, seq int64) error {
	if err := s.client.Set(ctx, lastReadKey(roomId, userId), seq, 0).Err(); err != nil {
		return fmt.Errorf("%w: set last read for room %q user %d: %v", ErrUnavailable, roomId, userId, err)
	}

	return nil
}

func (s *RedisStore) UnreadCount(ctx context.Context, roomId string, userId int) (int64, error) {
	current, err := s.CurrentSeq(ctx, roomId)
	if err != nil {
		return 0, err
	}

	lastRead, err := s.LastRead(ctx, roomId, userId)
	if err != nil {
		return 0, err
	}

	return unread(current, lastRead), nil
}

func unread(current, lastRead int64) int64 {
	if current <= lastRead {
		return 0
	}
	return current - lastRead
}
