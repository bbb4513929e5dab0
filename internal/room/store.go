package room

import "context"

// EntityStore is the durable storage boundary for rooms, memberships and
// completion records. Implementations must provide atomicity at the single
// entity level; cross-entity consistency is the engine's job. All swap
// operations compare against the entity's stored Version and return
// ErrConflict on mismatch.
type EntityStore interface {
	InsertRoom(ctx context.Context, r Room) error
	Room(ctx context.Context, id string) (Room, error)
	SwapRoom(ctx context.Context, r Room, expectedVersion int64) error
	RoomsByStatus(ctx context.Context, statuses ...RoomStatus) ([]Room, error)

	InsertMembership(ctx context.Context, m PlayerMembership) error
	Membership(ctx context.Context, id string) (PlayerMembership, error)
	Memberships(ctx context.Context, roomID string) ([]PlayerMembership, error)
	SwapMembership(ctx context.Context, m PlayerMembership, expectedVersion int64) error

	// UpsertCompletionRecord overwrites by RoomID; it never duplicates.
	UpsertCompletionRecord(ctx context.Context, rec CompletionRecord) error
	CompletionRecord(ctx context.Context, roomID string) (CompletionRecord, error)
}

// Results is the trading results collaborator. ok=false means no result is
// known for the player; the aggregator degrades instead of failing.
type Results interface {
	PlayerResult(ctx context.Context, roomID, userID string) (res PlayerResult, ok bool, err error)
}

// Notifier delivers room-changed events to out-of-process listeners with
// at-least-once semantics. Duplicate delivery is harmless: detection and
// markCompleted are idempotent.
type Notifier interface {
	RoomChanged(ctx context.Context, roomID string) error
}

// NoResults is a Results that knows nothing; every record aggregated through
// it is degraded.
type NoResults struct{}

func (NoResults) PlayerResult(context.Context, string, string) (PlayerResult, bool, error) {
	return PlayerResult{}, false, nil
}
