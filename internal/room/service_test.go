package room

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestTwoPlayersCompleteInOrder(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 2)

	for _, m := range members {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
	}

	if _, err := svc.Transition(ctx, members[0].ID, MemberCompleted); err != nil {
		t.Fatalf("player A complete: %v", err)
	}
	if got := mustRoom(t, svc, r.ID).Status; got != RoomInProgress {
		t.Fatalf("room should still be in_progress after one completion, got %s", got)
	}
	if store.RecordCount() != 0 {
		t.Fatalf("no record expected yet, have %d", store.RecordCount())
	}

	if _, err := svc.Transition(ctx, members[1].ID, MemberCompleted); err != nil {
		t.Fatalf("player B complete: %v", err)
	}
	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("room should be completed, got %s", got)
	}

	rec, err := svc.CompletionRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("completion record: %v", err)
	}
	if rec.PlayerCount != 2 || rec.CompletedPlayerCount != 2 {
		t.Fatalf("counts: got players=%d completed=%d", rec.PlayerCount, rec.CompletedPlayerCount)
	}
}

func TestDepartedPlayerExcludedFromCompletion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NoResults{})
	r, err := svc.CreateRoom(ctx, 2, 3)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	var members []PlayerMembership
	for i := 0; i < 3; i++ {
		m, err := svc.Join(ctx, r.ID, userName(i))
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		members = append(members, m)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomPreparing); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomInProgress); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// One player leaves before completing; the remaining two finish.
	if _, err := svc.Transition(ctx, members[2].ID, MemberLeft); err != nil {
		t.Fatalf("leave: %v", err)
	}
	for _, m := range members[:2] {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
		if _, err := svc.Transition(ctx, m.ID, MemberCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("room should be completed, got %s", got)
	}
	rec, err := svc.CompletionRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("completion record: %v", err)
	}
	if rec.PlayerCount != 2 {
		t.Fatalf("departed player counted: players=%d", rec.PlayerCount)
	}
}

func TestConcurrentFinalCompletions(t *testing.T) {
	ctx := context.Background()
	const n = 8
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, n)

	for _, m := range members {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, m := range members {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Transition(ctx, id, MemberCompleted); err != nil {
				errs <- err
			}
		}(m.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent completion failed: %v", err)
	}

	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("room should be completed, got %s", got)
	}
	if store.RecordCount() != 1 {
		t.Fatalf("exactly one completion record expected, have %d", store.RecordCount())
	}
}

func TestForceReconcileHealsMissedNotification(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 2)

	// Simulate a missed notification: all memberships get completed behind
	// the service's back, so no detection pass ever ran.
	for _, m := range members {
		cur, err := store.Membership(ctx, m.ID)
		if err != nil {
			t.Fatalf("read membership: %v", err)
		}
		cur.Status = MemberCompleted
		if err := store.SwapMembership(ctx, cur, cur.Version); err != nil {
			t.Fatalf("swap membership: %v", err)
		}
	}
	if got := mustRoom(t, svc, r.ID).Status; got != RoomInProgress {
		t.Fatalf("precondition: room should still be in_progress, got %s", got)
	}

	if err := svc.ForceReconcile(ctx, r.ID); err != nil {
		t.Fatalf("force reconcile: %v", err)
	}
	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("reconcile should complete the room, got %s", got)
	}
	if store.RecordCount() != 1 {
		t.Fatalf("exactly one record expected, have %d", store.RecordCount())
	}
}

func TestReconcileIsWriteFreeOnStableRoom(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 2)
	for _, m := range members {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
		if _, err := svc.Transition(ctx, m.ID, MemberCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	writes := store.RecordWrites
	if writes != 1 {
		t.Fatalf("expected one record write after completion, have %d", writes)
	}

	for i := 0; i < 3; i++ {
		if err := svc.ForceReconcile(ctx, r.ID); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}
	if store.RecordWrites != writes {
		t.Fatalf("stable reconcile wrote records: %d -> %d", writes, store.RecordWrites)
	}
}

func TestReconcileAllSweepsPendingRooms(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 2)
	for _, m := range members {
		cur, _ := store.Membership(ctx, m.ID)
		cur.Status = MemberCompleted
		if err := store.SwapMembership(ctx, cur, cur.Version); err != nil {
			t.Fatalf("swap membership: %v", err)
		}
	}

	// A second room that is not complete must be left alone.
	other, err := svc.CreateRoom(ctx, 1, 4)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Join(ctx, other.ID, "lingerer"); err != nil {
		t.Fatalf("join: %v", err)
	}

	checked, err := svc.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if checked != 2 {
		t.Fatalf("expected 2 rooms checked, got %d", checked)
	}
	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("swept room should be completed, got %s", got)
	}
	if got := mustRoom(t, svc, other.ID).Status; got != RoomOpen {
		t.Fatalf("incomplete room must stay open, got %s", got)
	}
	if store.RecordCount() != 1 {
		t.Fatalf("exactly one record expected, have %d", store.RecordCount())
	}
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NoResults{})
	r, err := svc.CreateRoom(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if _, err := svc.Join(ctx, r.ID, "alice"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := svc.Join(ctx, r.ID, "alice"); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("duplicate join: got %v", err)
	}
	if _, err := svc.Join(ctx, r.ID, "bob"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, err := svc.Join(ctx, r.ID, "carol"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("full room join: got %v", err)
	}

	if _, err := svc.Advance(ctx, r.ID, RoomPreparing); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomInProgress); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := svc.Join(ctx, r.ID, "dave"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("join after start: got %v", err)
	}
}

func TestAdvanceRequiresMinPlayers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NoResults{})
	r, err := svc.CreateRoom(ctx, 2, 4)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Join(ctx, r.ID, "solo"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomPreparing); err != nil {
		t.Fatalf("advance to preparing: %v", err)
	}
	if _, err := svc.Advance(ctx, r.ID, RoomInProgress); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("under-filled start: got %v", err)
	}
}

func TestAdvanceToCompletedIsForbidden(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NoResults{})
	r, _ := startRoom(t, svc, 2)
	if _, err := svc.Advance(ctx, r.ID, RoomCompleted); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("advance to completed: got %v", err)
	}
}

func TestCompletedMembershipIsMonotonic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NoResults{})
	_, members := startRoom(t, svc, 2)
	m := members[0]
	if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
		t.Fatalf("to in_game: %v", err)
	}
	if _, err := svc.Transition(ctx, m.ID, MemberCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := svc.Transition(ctx, m.ID, MemberInGame); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> in_game: got %v", err)
	}
	if _, err := svc.Transition(ctx, m.ID, MemberJoined); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> joined: got %v", err)
	}
	// The one legal move out of Completed.
	if _, err := svc.Transition(ctx, m.ID, MemberLeft); err != nil {
		t.Fatalf("completed -> left: %v", err)
	}
}

func TestPostCompletionDepartureKeepsRecordHistory(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 2)
	for _, m := range members {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
		if _, err := svc.Transition(ctx, m.ID, MemberCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	before, err := svc.CompletionRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("completion record: %v", err)
	}
	if before.PlayerCount != 2 || before.CompletedPlayerCount != 2 {
		t.Fatalf("precondition: players=%d completed=%d", before.PlayerCount, before.CompletedPlayerCount)
	}
	writes := store.RecordWrites

	// Administrative cleanup after the fact must not rewrite history.
	if _, err := svc.Transition(ctx, members[0].ID, MemberLeft); err != nil {
		t.Fatalf("completed -> left: %v", err)
	}
	after, err := svc.CompletionRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("completion record: %v", err)
	}
	if after.PlayerCount != 2 || after.CompletedPlayerCount != 2 {
		t.Fatalf("record clobbered by departure: players=%d completed=%d",
			after.PlayerCount, after.CompletedPlayerCount)
	}
	if store.RecordWrites != writes {
		t.Fatalf("departure rewrote the record: writes %d -> %d", writes, store.RecordWrites)
	}
}

func TestJoinCannotLandInCompletedRoom(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		svc, store := newTestService(NoResults{})
		r, err := svc.CreateRoom(ctx, 1, 2)
		if err != nil {
			t.Fatalf("create room: %v", err)
		}
		early, err := svc.Join(ctx, r.ID, "early")
		if err != nil {
			t.Fatalf("first join: %v", err)
		}
		// Complete the only member behind the service's back so the room is
		// simultaneously joinable and detectable as complete.
		cur, err := store.Membership(ctx, early.ID)
		if err != nil {
			t.Fatalf("read membership: %v", err)
		}
		cur.Status = MemberCompleted
		if err := store.SwapMembership(ctx, cur, cur.Version); err != nil {
			t.Fatalf("swap membership: %v", err)
		}

		var wg sync.WaitGroup
		var joinErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.ForceReconcile(ctx, r.ID)
		}()
		go func() {
			defer wg.Done()
			_, joinErr = svc.Join(ctx, r.ID, "late")
		}()
		wg.Wait()

		got := mustRoom(t, svc, r.ID)
		memberships, err := store.Memberships(ctx, r.ID)
		if err != nil {
			t.Fatalf("read memberships: %v", err)
		}
		if got.Status == RoomCompleted {
			for _, m := range memberships {
				if m.Active() && m.Status != MemberCompleted {
					t.Fatalf("round %d: joined member in a completed room: %+v", i, m)
				}
			}
			if !errors.Is(joinErr, ErrRoomClosed) {
				t.Fatalf("round %d: join into completed room: got %v", i, joinErr)
			}
		} else if joinErr != nil {
			t.Fatalf("round %d: join into open room failed: %v", i, joinErr)
		}
	}
}

// flakyStore fails membership reads for one room, leaving the rest of the
// store intact.
type flakyStore struct {
	*MemoryStore
	failRoom string
}

func (f *flakyStore) Memberships(ctx context.Context, roomID string) ([]PlayerMembership, error) {
	if f.failRoom != "" && roomID == f.failRoom {
		return nil, errors.New("memberships offline")
	}
	return f.MemoryStore.Memberships(ctx, roomID)
}

func TestReconcileAllContinuesPastFailingRoom(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, NoResults{}, nil, testLogger())

	stuck, err := svc.CreateRoom(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Join(ctx, stuck.ID, "stranded"); err != nil {
		t.Fatalf("join: %v", err)
	}

	r, members := startRoom(t, svc, 2)
	for _, m := range members {
		cur, _ := store.Membership(ctx, m.ID)
		cur.Status = MemberCompleted
		if err := store.SwapMembership(ctx, cur, cur.Version); err != nil {
			t.Fatalf("swap membership: %v", err)
		}
	}
	store.failRoom = stuck.ID

	checked, err := svc.ReconcileAll(ctx)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("failing room must surface its error, got %v", err)
	}
	if checked != 1 {
		t.Fatalf("expected the healthy room to be checked, got %d", checked)
	}
	store.failRoom = ""
	if got := mustRoom(t, svc, r.ID).Status; got != RoomCompleted {
		t.Fatalf("healthy room should still be completed, got %s", got)
	}
	if got := mustRoom(t, svc, stuck.ID).Status; got != RoomOpen {
		t.Fatalf("failing room must be left alone, got %s", got)
	}
}

func TestStaleSwapReportsConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, NoResults{}, nil, testLogger())
	r, err := svc.CreateRoom(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	m, err := svc.Join(ctx, r.ID, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	next := m
	next.Status = MemberInGame
	if err := store.SwapMembership(ctx, next, m.Version); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	if err := store.SwapMembership(ctx, next, m.Version); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale swap: got %v", err)
	}
}

func TestCompletionInvariantHoldsAfterCompletion(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(NoResults{})
	r, members := startRoom(t, svc, 3)
	for _, m := range members {
		if _, err := svc.Transition(ctx, m.ID, MemberInGame); err != nil {
			t.Fatalf("to in_game: %v", err)
		}
		if _, err := svc.Transition(ctx, m.ID, MemberCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	// Completed iff all active members completed, and the record exists.
	got := mustRoom(t, svc, r.ID)
	memberships, err := store.Memberships(ctx, r.ID)
	if err != nil {
		t.Fatalf("read memberships: %v", err)
	}
	active, completedActive := partition(memberships)
	complete := active > 0 && active == completedActive
	if (got.Status == RoomCompleted) != complete {
		t.Fatalf("invariant broken: status=%s active=%d completed=%d", got.Status, active, completedActive)
	}
	if _, err := store.CompletionRecord(ctx, r.ID); err != nil {
		t.Fatalf("completed room must have a record: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed room must carry completed_at")
	}
}
