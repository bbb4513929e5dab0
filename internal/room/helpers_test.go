package room

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(results Results) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, results, nil, testLogger()), store
}

// fakeResults serves canned per-player outcomes keyed by user ID.
type fakeResults struct {
	byUser map[string]PlayerResult
	err    error
}

func (f *fakeResults) PlayerResult(_ context.Context, _, userID string) (PlayerResult, bool, error) {
	if f.err != nil {
		return PlayerResult{}, false, f.err
	}
	res, ok := f.byUser[userID]
	return res, ok, nil
}

// startRoom creates a room, joins n users (user-0 .. user-n-1) and advances
// it to in_progress.
func startRoom(t *testing.T, svc *Service, n int) (Room, []PlayerMembership) {
	t.Helper()
	ctx := context.Background()
	r, err := svc.CreateRoom(ctx, n, n)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	memberships := make([]PlayerMembership, 0, n)
	for i := 0; i < n; i++ {
		m, err := svc.Join(ctx, r.ID, userName(i))
		if err != nil {
			t.Fatalf("join user %d: %v", i, err)
		}
		memberships = append(memberships, m)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomPreparing); err != nil {
		t.Fatalf("advance to preparing: %v", err)
	}
	r, err = svc.Advance(ctx, r.ID, RoomInProgress)
	if err != nil {
		t.Fatalf("advance to in_progress: %v", err)
	}
	return r, memberships
}

func userName(i int) string {
	return fmt.Sprintf("user-%d", i)
}

func mustRoom(t *testing.T, svc *Service, roomID string) Room {
	t.Helper()
	r, _, err := svc.RoomDetail(context.Background(), roomID)
	if err != nil {
		t.Fatalf("room detail: %v", err)
	}
	return r
}

func timePtr(t time.Time) *time.Time {
	return &t
}
