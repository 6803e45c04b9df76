// Package roomstate holds the hot per-room chat state: the message
// sequence counter, a bounded list of recent messages, and per-user
// read watermarks. Durable history lives in the database; this store
// is the low-latency read path.
package roomstate

import (
	"context"
	"errors"

	"github.com/mongmate/chatserver/internal/types"
)

// ErrUnavailable marks transient store failures. The core never
// retries on its own: a retry after an unacknowledged seq issuance
// could be misread as a sequence gap.
var ErrUnavailable = errors.New("room state store unavailable")

const (
	// maxRecent bounds the recent-message list per room. Older
	// messages survive only in durable storage.
	maxRecent = 1000

	minLimit     = 1
	maxLimit     = 200
	DefaultLimit = 50
)

type Store interface {
	// NextSeq atomically issues the room's next sequence number.
	// The first call for a room returns 1. Issued numbers are never
	// reclaimed.
	NextSeq(ctx context.Context, roomId string) (int64, error)
	// CurrentSeq returns the latest issued sequence number without
	// side effects, or 0 if none has been issued.
	CurrentSeq(ctx context.Context, roomId string) (int64, error)
	// AppendRecent inserts the message at the head of the room's
	// recent list and trims the list to maxRecent entries.
	AppendRecent(ctx context.Context, roomId string, msg types.Message) error
	// RecentMessages returns up to limit entries ordered oldest to
	// newest. The limit is clamped to [1, 200].
	RecentMessages(ctx context.Context, roomId string, limit int) ([]types.Message, error)
	// LastRead returns the user's read watermark, 0 if never set.
	LastRead(ctx context.Context, roomId string, userId int) (int64, error)
	// LastReadIfPresent distinguishes "never set" from "set to 0".
	LastReadIfPresent(ctx context.Context, roomId string, userId int) (int64, bool, error)
	// SetLastRead stores seq verbatim. Clamping to CurrentSeq is the
	// caller's contract.
	SetLastRead(ctx context.Context, roomId string, userId int, seq int64) error
	// UnreadCount is max(0, CurrentSeq - LastRead).
	UnreadCount(ctx context.Context, roomId string, userId int) (int64, error)
}

func clampLimit(limit int) int {
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
