// Package rooms holds the server side of shared snapshots. Every Store
// applies last-write-wins: Put replaces the whole snapshot and stamps it with
// server time, so the watermark clients compare against is always the
// server's.
package rooms

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

var ErrIDExhausted = errors.New("could not allocate a unique room id")
var ErrClosed = errors.New("room store closed")

// maxIDAttempts bounds the collision loop in Create.
const maxIDAttempts = 16

type SyncResult struct {
	NeedsUpdate bool
	Snapshot    *tally.Snapshot // set only when NeedsUpdate
}

type Store interface {
	// Create allocates a fresh id initialized to the default snapshot.
	Create(ctx context.Context) (string, tally.Snapshot, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Get returns the room's snapshot, creating a default one for an unknown
	// id. Exists reports false for such an id until it is fetched, so a
	// caller combining Exists and Get must not assume the two agree.
	Get(ctx context.Context, id string) (tally.Snapshot, error)
	Put(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error)
	// Sync returns the snapshot only when its LastUpdated is strictly newer
	// than watermark. Unknown rooms are created like in Get.
	Sync(ctx context.Context, id string, watermark int64) (SyncResult, error)
	Close() error
}

// NewRoomID returns an upper-case 8 character token.
func NewRoomID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:types.RoomIDLength])
}

// nextStamp keeps LastUpdated strictly increasing per room even when two
// writes land in the same millisecond or the server clock steps back.
func nextStamp(nowMillis, previous int64) int64 {
	if nowMillis <= previous {
		return previous + 1
	}
	return nowMillis
}

func syncResult(s tally.Snapshot, watermark int64) SyncResult {
	if s.LastUpdated > watermark {
		return SyncResult{NeedsUpdate: true, Snapshot: &s}
	}
	return SyncResult{}
}
