package room

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Aggregator computes the completion statistics for a room and persists
// exactly one CompletionRecord, upserting by room ID. It is only ever invoked
// by the completion detector, inside the room's critical section.
type Aggregator struct {
	store   EntityStore
	results Results
}

func NewAggregator(store EntityStore, results Results) *Aggregator {
	if results == nil {
		results = NoResults{}
	}
	return &Aggregator{store: store, results: results}
}

// Upsert recomputes the record for a completed room and writes it unless the
// stored record already matches, keeping repeated reconciliation write-free.
func (a *Aggregator) Upsert(ctx context.Context, r Room, memberships []PlayerMembership) (CompletionRecord, error) {
	rec := a.compute(ctx, r, memberships)

	prev, err := a.store.CompletionRecord(ctx, r.ID)
	switch {
	case err == nil:
		if sameRecord(prev, rec) {
			return prev, nil
		}
	case !errors.Is(err, ErrRecordNotFound):
		return rec, fmt.Errorf("%w: read completion record: %v", ErrStoreUnavailable, err)
	}

	if err := a.store.UpsertCompletionRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("%w: upsert completion record: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (a *Aggregator) compute(ctx context.Context, r Room, memberships []PlayerMembership) CompletionRecord {
	completedAt := time.Now().UTC()
	if r.CompletedAt != nil {
		completedAt = *r.CompletedAt
	}
	rec := CompletionRecord{
		RoomID:      r.ID,
		CompletedAt: completedAt,
	}

	var (
		sum        int64
		haveMinMax bool
		fastest    time.Duration
		slowest    time.Duration
		haveDur    bool
	)
	for _, m := range memberships {
		if !onRecord(m) {
			continue
		}
		rec.PlayerCount++
		if finished(m) {
			rec.CompletedPlayerCount++
		}

		res, ok, err := a.results.PlayerResult(ctx, r.ID, m.UserID)
		if err != nil || !ok {
			// A missing result contributes zero to the sum and is
			// excluded from min/max; the record is annotated instead
			// of blocking the room's completion.
			rec.Degraded = true
		} else {
			sum += res.FinalBalanceMicros
			if !haveMinMax {
				rec.HighestBalanceMicros = res.FinalBalanceMicros
				rec.LowestBalanceMicros = res.FinalBalanceMicros
				haveMinMax = true
			} else {
				if res.FinalBalanceMicros > rec.HighestBalanceMicros {
					rec.HighestBalanceMicros = res.FinalBalanceMicros
				}
				if res.FinalBalanceMicros < rec.LowestBalanceMicros {
					rec.LowestBalanceMicros = res.FinalBalanceMicros
				}
			}
		}

		start, end := m.StartedAt, m.CompletedAt
		if start == nil && ok {
			start = res.StartedAt
		}
		if end == nil && ok {
			end = res.CompletedAt
		}
		if start == nil || end == nil {
			continue
		}
		d := end.Sub(*start)
		if !haveDur || d < fastest {
			fastest = d
		}
		if !haveDur || d > slowest {
			slowest = d
		}
		haveDur = true
	}

	if rec.PlayerCount > 0 {
		rec.AverageBalanceMicros = sum / int64(rec.PlayerCount)
	}
	if haveDur {
		f, s := fastest, slowest
		rec.FastestPlayerDuration = &f
		rec.SlowestPlayerDuration = &s
	}
	if r.StartedAt != nil {
		d := completedAt.Sub(*r.StartedAt)
		rec.CompletionDuration = &d
	}
	return rec
}

// onRecord reports whether the membership belongs on the completion record.
// A member who completed and then left stays counted: Completed -> Left is
// administrative cleanup and must not rewrite the recorded statistics.
// Members who leave or are kicked without completing never make the record.
func onRecord(m PlayerMembership) bool {
	return m.Active() || m.CompletedAt != nil
}

func finished(m PlayerMembership) bool {
	return m.Status == MemberCompleted || m.CompletedAt != nil
}

func sameRecord(a, b CompletionRecord) bool {
	return a.RoomID == b.RoomID &&
		a.PlayerCount == b.PlayerCount &&
		a.CompletedPlayerCount == b.CompletedPlayerCount &&
		a.AverageBalanceMicros == b.AverageBalanceMicros &&
		a.HighestBalanceMicros == b.HighestBalanceMicros &&
		a.LowestBalanceMicros == b.LowestBalanceMicros &&
		a.Degraded == b.Degraded &&
		sameDuration(a.CompletionDuration, b.CompletionDuration) &&
		sameDuration(a.FastestPlayerDuration, b.FastestPlayerDuration) &&
		sameDuration(a.SlowestPlayerDuration, b.SlowestPlayerDuration)
}

func sameDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
