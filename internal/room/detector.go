package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Detector is the single authority on "is this room now fully completed" and
// the only code path allowed to move a room to Completed. Checks for the same
// room are serialized through a per-room critical section so the last player
// to complete is observed by exactly one winning pass; different rooms never
// contend.
type Detector struct {
	store       EntityStore
	aggregator  *Aggregator
	locks       *roomLocks
	lockTimeout time.Duration
	log         *slog.Logger
}

func NewDetector(store EntityStore, aggregator *Aggregator, lockTimeout time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Detector{
		store:       store,
		aggregator:  aggregator,
		locks:       newRoomLocks(),
		lockTimeout: lockTimeout,
		log:         logger,
	}
}

// Check re-derives the room's completion from the committed membership set
// and, if the room just became complete, transitions it and writes the
// completion record before releasing the section. Safe to call any number of
// times for the same room; errors are surfaced for the caller (or the
// reconciliation sweep) to retry, never swallowed.
func (d *Detector) Check(ctx context.Context, roomID string) error {
	return d.withRoom(ctx, roomID, func() error {
		return d.check(ctx, roomID)
	})
}

// withRoom runs fn inside the room's critical section. Join shares the
// section with detection so a membership can never be inserted between the
// parity decision and the status flip.
func (d *Detector) withRoom(ctx context.Context, roomID string, fn func() error) error {
	release, err := d.locks.acquire(ctx, roomID, d.lockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (d *Detector) check(ctx context.Context, roomID string) error {
	r, err := d.store.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("%w: read room: %v", ErrStoreUnavailable, err)
	}
	memberships, err := d.store.Memberships(ctx, roomID)
	if err != nil {
		return fmt.Errorf("%w: read memberships: %v", ErrStoreUnavailable, err)
	}

	active, completedActive := partition(memberships)
	complete := active > 0 && active == completedActive

	if r.Status == RoomCompleted {
		// Already transitioned; recompute the record so late-arriving
		// result data (or a crash between transition and record write)
		// self-heals. The aggregator skips identical rewrites.
		_, err := d.aggregator.Upsert(ctx, r, memberships)
		return err
	}
	if !complete {
		return nil
	}

	if err := d.markCompleted(ctx, r); err != nil {
		return err
	}
	r, err = d.store.Room(ctx, roomID)
	if err != nil {
		return fmt.Errorf("%w: reread room: %v", ErrStoreUnavailable, err)
	}
	// Record write happens inside the critical section, after the status
	// flip: no reader can observe a Completed room without its record
	// except across a crash, which the reconcile sweep repairs.
	if _, err := d.aggregator.Upsert(ctx, r, memberships); err != nil {
		return err
	}
	d.log.Info("room completed", "room_id", roomID, "players", active)
	return nil
}

// markCompleted swaps the room into Completed from whatever non-Completed
// status it holds, stamping CompletedAt. A room that is already Completed is
// a no-op success, which makes duplicate notifications and reconcile passes
// harmless.
func (d *Detector) markCompleted(ctx context.Context, r Room) error {
	if r.Status == RoomCompleted {
		return nil
	}
	now := time.Now().UTC()
	next := r
	next.Status = RoomCompleted
	next.CompletedAt = &now
	if err := d.store.SwapRoom(ctx, next, r.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			// Someone raced the version forward. Within the critical
			// section that can only be an external writer touching
			// other fields; re-read and retry once through the caller.
			return err
		}
		return fmt.Errorf("%w: mark completed: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func partition(memberships []PlayerMembership) (active, completedActive int) {
	for _, m := range memberships {
		if !m.Active() {
			continue
		}
		active++
		if m.Status == MemberCompleted {
			completedActive++
		}
	}
	return active, completedActive
}
