package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	maxSwapAttempts  = 8
	initialSwapDelay = 75 * time.Millisecond
	maxSwapDelay     = 1200 * time.Millisecond
)

// Service is the entry point for every lifecycle mutation and read. All
// writes go through versioned compare-and-swap with a bounded retry budget;
// once the budget is spent the caller gets ErrConflict and must retry with a
// fresh read.
type Service struct {
	store    EntityStore
	detector *Detector
	notifier Notifier
	log      *slog.Logger
}

func NewService(store EntityStore, results Results, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	agg := NewAggregator(store, results)
	return &Service{
		store:    store,
		detector: NewDetector(store, agg, 5*time.Second, logger),
		notifier: notifier,
		log:      logger,
	}
}

func (s *Service) CreateRoom(ctx context.Context, minPlayers, maxPlayers int) (Room, error) {
	if err := validateBounds(minPlayers, maxPlayers); err != nil {
		return Room{}, err
	}
	r := Room{
		ID:         uuid.NewString(),
		Status:     RoomOpen,
		MinPlayers: minPlayers,
		MaxPlayers: maxPlayers,
		CreatedAt:  time.Now().UTC(),
		Version:    1,
	}
	if err := s.store.InsertRoom(ctx, r); err != nil {
		return Room{}, fmt.Errorf("%w: insert room: %v", ErrStoreUnavailable, err)
	}
	s.log.Info("room created", "room_id", r.ID, "min_players", minPlayers, "max_players", maxPlayers)
	return r, nil
}

// Join creates a membership in Joined. The status and capacity checks plus
// the insert run inside the room's critical section, shared with completion
// detection: a join can never land after the detector has decided the room is
// complete, so a Completed room never gains an active member. The
// (room_id, user_id) uniqueness lives in the store.
func (s *Service) Join(ctx context.Context, roomID, userID string) (PlayerMembership, error) {
	var m PlayerMembership
	err := s.detector.withRoom(ctx, roomID, func() error {
		r, err := s.store.Room(ctx, roomID)
		if err != nil {
			return roomReadErr(err)
		}
		if r.Status != RoomOpen && r.Status != RoomPreparing {
			return ErrRoomClosed
		}
		memberships, err := s.store.Memberships(ctx, roomID)
		if err != nil {
			return fmt.Errorf("%w: read memberships: %v", ErrStoreUnavailable, err)
		}
		active, _ := partition(memberships)
		if active >= r.MaxPlayers {
			return ErrRoomFull
		}

		m = PlayerMembership{
			ID:       uuid.NewString(),
			RoomID:   roomID,
			UserID:   userID,
			Status:   MemberJoined,
			JoinedAt: time.Now().UTC(),
			Version:  1,
		}
		if err := s.store.InsertMembership(ctx, m); err != nil {
			if errors.Is(err, ErrDuplicateMember) {
				return err
			}
			return fmt.Errorf("%w: insert membership: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return PlayerMembership{}, err
	}
	s.log.Info("player joined", "room_id", roomID, "user_id", userID)
	return m, nil
}

// Transition moves a single membership through its state machine and, on a
// committed change, synchronously re-runs completion detection for the room.
func (s *Service) Transition(ctx context.Context, membershipID string, target MemberStatus) (PlayerMembership, error) {
	var committed PlayerMembership
	err := s.withSwapRetries(ctx, func() error {
		m, err := s.store.Membership(ctx, membershipID)
		if err != nil {
			if errors.Is(err, ErrMembershipNotFound) {
				return err
			}
			return fmt.Errorf("%w: read membership: %v", ErrStoreUnavailable, err)
		}
		if err := ValidateMemberTransition(m.Status, target); err != nil {
			return err
		}
		now := time.Now().UTC()
		next := m
		next.Status = target
		switch target {
		case MemberInGame:
			next.StartedAt = &now
		case MemberCompleted:
			next.CompletedAt = &now
		}
		if err := s.store.SwapMembership(ctx, next, m.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrConflict
			}
			return fmt.Errorf("%w: swap membership: %v", ErrStoreUnavailable, err)
		}
		committed = next
		committed.Version = m.Version + 1
		return nil
	})
	if err != nil {
		return PlayerMembership{}, err
	}

	s.log.Info("membership transitioned", "membership_id", membershipID,
		"room_id", committed.RoomID, "status", string(target))
	s.notifyRoomChanged(ctx, committed.RoomID)
	if err := s.detector.Check(ctx, committed.RoomID); err != nil {
		// The transition itself is committed; detection failures are
		// reported so the caller or the reconcile sweep retries them.
		return committed, err
	}
	return committed, nil
}

// Advance performs an administrative room move (Open -> Preparing ->
// InProgress). Completion is never reachable through here.
func (s *Service) Advance(ctx context.Context, roomID string, target RoomStatus) (Room, error) {
	var committed Room
	err := s.withSwapRetries(ctx, func() error {
		r, err := s.store.Room(ctx, roomID)
		if err != nil {
			return roomReadErr(err)
		}
		if err := ValidateRoomAdvance(r.Status, target); err != nil {
			return err
		}
		if target == RoomInProgress {
			memberships, err := s.store.Memberships(ctx, roomID)
			if err != nil {
				return fmt.Errorf("%w: read memberships: %v", ErrStoreUnavailable, err)
			}
			active, _ := partition(memberships)
			if active < r.MinPlayers {
				return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, active, r.MinPlayers)
			}
		}
		now := time.Now().UTC()
		next := r
		next.Status = target
		if target == RoomInProgress {
			next.StartedAt = &now
		}
		if err := s.store.SwapRoom(ctx, next, r.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrConflict
			}
			return fmt.Errorf("%w: swap room: %v", ErrStoreUnavailable, err)
		}
		committed = next
		committed.Version = r.Version + 1
		return nil
	})
	if err != nil {
		return Room{}, err
	}

	s.log.Info("room advanced", "room_id", roomID, "status", string(target))
	s.notifyRoomChanged(ctx, roomID)
	if err := s.detector.Check(ctx, roomID); err != nil {
		return committed, err
	}
	return committed, nil
}

// ForceReconcile re-runs the completion decision for one room. Always safe,
// always idempotent; a stable room produces no writes.
func (s *Service) ForceReconcile(ctx context.Context, roomID string) error {
	return s.detector.Check(ctx, roomID)
}

// ReconcileAll re-runs the completion decision over every non-Completed
// room, self-healing notifications lost to crashes. One stuck room must not
// starve the sweep: per-room failures are logged, collected and returned
// joined while the remaining rooms are still checked. Completed rooms with
// late-arriving result data go through ForceReconcile individually.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	rooms, err := s.store.RoomsByStatus(ctx, RoomOpen, RoomPreparing, RoomInProgress)
	if err != nil {
		return 0, fmt.Errorf("%w: list rooms: %v", ErrStoreUnavailable, err)
	}
	checked := 0
	var errs []error
	for _, r := range rooms {
		if ctx.Err() != nil {
			return checked, errors.Join(append(errs, ctx.Err())...)
		}
		if err := s.detector.Check(ctx, r.ID); err != nil {
			s.log.Warn("reconcile failed", "room_id", r.ID, "err", err)
			errs = append(errs, fmt.Errorf("room %s: %w", r.ID, err))
			continue
		}
		checked++
	}
	return checked, errors.Join(errs...)
}

func (s *Service) VisibleRooms(ctx context.Context, v Visibility) ([]Room, error) {
	rooms, err := s.store.RoomsByStatus(ctx, statusesFor(v)...)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrStoreUnavailable, err)
	}
	return rooms, nil
}

func (s *Service) RoomDetail(ctx context.Context, roomID string) (Room, []PlayerMembership, error) {
	r, err := s.store.Room(ctx, roomID)
	if err != nil {
		return Room{}, nil, roomReadErr(err)
	}
	memberships, err := s.store.Memberships(ctx, roomID)
	if err != nil {
		return Room{}, nil, fmt.Errorf("%w: read memberships: %v", ErrStoreUnavailable, err)
	}
	return r, memberships, nil
}

func (s *Service) CompletionRecord(ctx context.Context, roomID string) (CompletionRecord, error) {
	rec, err := s.store.CompletionRecord(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return CompletionRecord{}, err
		}
		return CompletionRecord{}, fmt.Errorf("%w: read completion record: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *Service) withSwapRetries(ctx context.Context, attempt func() error) error {
	delay := initialSwapDelay
	for i := 0; i < maxSwapAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if i == maxSwapAttempts-1 {
			return ErrConflict
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxSwapDelay {
			delay *= 2
		}
	}
	return ErrConflict
}

func (s *Service) notifyRoomChanged(ctx context.Context, roomID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.RoomChanged(ctx, roomID); err != nil {
		// Notification is at-least-once via the reconcile sweep; a
		// failed publish must not fail the committed transition.
		s.log.Warn("room change publish failed", "room_id", roomID, "err", err)
	}
}

func roomReadErr(err error) error {
	if errors.Is(err, ErrRoomNotFound) {
		return err
	}
	return fmt.Errorf("%w: read room: %v", ErrStoreUnavailable, err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
