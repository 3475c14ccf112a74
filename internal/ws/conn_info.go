package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo identifies one physical connection of a Channel.
type ConnInfo struct {
	ConnID      string
	FriendID    int64
	UserID      int64
	TraceID     string
	Attempt     int
	ConnectedAt time.Time
}

func newConnInfo(friendID, userID int64, attempt int, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		FriendID:    friendID,
		UserID:      userID,
		TraceID:     traceID,
		Attempt:     attempt,
		ConnectedAt: time.Now(),
	}
}
