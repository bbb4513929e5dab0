package room

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements EntityStore on Postgres. Compare-and-swap is realized
// with a version column: every swap updates `WHERE version = expected` and
// bumps it, so a lost race surfaces as zero affected rows instead of a silent
// overwrite.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertRoom(ctx context.Context, r Room) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO arena.rooms (id, status, min_players, max_players, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, string(r.Status), r.MinPlayers, r.MaxPlayers, r.CreatedAt, r.Version)
	return err
}

func (s *PGStore) Room(ctx context.Context, id string) (Room, error) {
	var r Room
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, status, min_players, max_players, created_at, started_at, completed_at, version
		FROM arena.rooms
		WHERE id = $1
	`, id).Scan(&r.ID, &status, &r.MinPlayers, &r.MaxPlayers, &r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, err
	}
	r.Status = RoomStatus(status)
	return r, nil
}

func (s *PGStore) SwapRoom(ctx context.Context, r Room, expectedVersion int64) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE arena.rooms
		SET status = $1,
		    started_at = $2,
		    completed_at = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $4 AND version = $5
	`, string(r.Status), r.StartedAt, r.CompletedAt, r.ID, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.swapMiss(ctx, `SELECT 1 FROM arena.rooms WHERE id = $1`, r.ID, ErrRoomNotFound)
	}
	return nil
}

func (s *PGStore) RoomsByStatus(ctx context.Context, statuses ...RoomStatus) ([]Room, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, status, min_players, max_players, created_at, started_at, completed_at, version
		FROM arena.rooms
		WHERE status = ANY($1)
		ORDER BY created_at
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var r Room
		var status string
		if err := rows.Scan(&r.ID, &status, &r.MinPlayers, &r.MaxPlayers, &r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.Version); err != nil {
			return nil, err
		}
		r.Status = RoomStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertMembership(ctx context.Context, m PlayerMembership) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO arena.room_memberships (id, room_id, user_id, status, joined_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.RoomID, m.UserID, string(m.Status), m.JoinedAt, m.Version)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateMember
	}
	return err
}

func (s *PGStore) Membership(ctx context.Context, id string) (PlayerMembership, error) {
	var m PlayerMembership
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, room_id, user_id, status, joined_at, started_at, completed_at, version
		FROM arena.room_memberships
		WHERE id = $1
	`, id).Scan(&m.ID, &m.RoomID, &m.UserID, &status, &m.JoinedAt, &m.StartedAt, &m.CompletedAt, &m.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PlayerMembership{}, ErrMembershipNotFound
		}
		return PlayerMembership{}, err
	}
	m.Status = MemberStatus(status)
	return m, nil
}

func (s *PGStore) Memberships(ctx context.Context, roomID string) ([]PlayerMembership, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, room_id, user_id, status, joined_at, started_at, completed_at, version
		FROM arena.room_memberships
		WHERE room_id = $1
		ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayerMembership
	for rows.Next() {
		var m PlayerMembership
		var status string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &status, &m.JoinedAt, &m.StartedAt, &m.CompletedAt, &m.Version); err != nil {
			return nil, err
		}
		m.Status = MemberStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) SwapMembership(ctx context.Context, m PlayerMembership, expectedVersion int64) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE arena.room_memberships
		SET status = $1,
		    started_at = $2,
		    completed_at = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $4 AND version = $5
	`, string(m.Status), m.StartedAt, m.CompletedAt, m.ID, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.swapMiss(ctx, `SELECT 1 FROM arena.room_memberships WHERE id = $1`, m.ID, ErrMembershipNotFound)
	}
	return nil
}

func (s *PGStore) UpsertCompletionRecord(ctx context.Context, rec CompletionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO arena.room_completions
		    (room_id, completed_at, player_count, completed_player_count,
		     completion_duration_ms, fastest_player_duration_ms, slowest_player_duration_ms,
		     average_balance_micros, highest_balance_micros, lowest_balance_micros, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (room_id) DO UPDATE SET
		    completed_at = EXCLUDED.completed_at,
		    player_count = EXCLUDED.player_count,
		    completed_player_count = EXCLUDED.completed_player_count,
		    completion_duration_ms = EXCLUDED.completion_duration_ms,
		    fastest_player_duration_ms = EXCLUDED.fastest_player_duration_ms,
		    slowest_player_duration_ms = EXCLUDED.slowest_player_duration_ms,
		    average_balance_micros = EXCLUDED.average_balance_micros,
		    highest_balance_micros = EXCLUDED.highest_balance_micros,
		    lowest_balance_micros = EXCLUDED.lowest_balance_micros,
		    degraded = EXCLUDED.degraded,
		    updated_at = now()
	`, rec.RoomID, rec.CompletedAt, rec.PlayerCount, rec.CompletedPlayerCount,
		durationMillis(rec.CompletionDuration), durationMillis(rec.FastestPlayerDuration), durationMillis(rec.SlowestPlayerDuration),
		rec.AverageBalanceMicros, rec.HighestBalanceMicros, rec.LowestBalanceMicros, rec.Degraded)
	return err
}

func (s *PGStore) CompletionRecord(ctx context.Context, roomID string) (CompletionRecord, error) {
	var rec CompletionRecord
	var completionMs, fastestMs, slowestMs *int64
	err := s.db.QueryRow(ctx, `
		SELECT room_id, completed_at, player_count, completed_player_count,
		       completion_duration_ms, fastest_player_duration_ms, slowest_player_duration_ms,
		       average_balance_micros, highest_balance_micros, lowest_balance_micros, degraded
		FROM arena.room_completions
		WHERE room_id = $1
	`, roomID).Scan(&rec.RoomID, &rec.CompletedAt, &rec.PlayerCount, &rec.CompletedPlayerCount,
		&completionMs, &fastestMs, &slowestMs,
		&rec.AverageBalanceMicros, &rec.HighestBalanceMicros, &rec.LowestBalanceMicros, &rec.Degraded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CompletionRecord{}, ErrRecordNotFound
		}
		return CompletionRecord{}, err
	}
	rec.CompletionDuration = millisDuration(completionMs)
	rec.FastestPlayerDuration = millisDuration(fastestMs)
	rec.SlowestPlayerDuration = millisDuration(slowestMs)
	return rec, nil
}

// swapMiss decides whether a zero-row swap was a lost race or a missing row.
func (s *PGStore) swapMiss(ctx context.Context, existsQuery, id string, notFound error) error {
	var one int
	err := s.db.QueryRow(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func durationMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func millisDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// PGResults reads per-player trading outcomes written by the trading engine.
// It is deliberately read-only here; absence is a normal answer.
type PGResults struct {
	db *pgxpool.Pool
}

func NewPGResults(db *pgxpool.Pool) *PGResults {
	return &PGResults{db: db}
}

func (r *PGResults) PlayerResult(ctx context.Context, roomID, userID string) (PlayerResult, bool, error) {
	var res PlayerResult
	err := r.db.QueryRow(ctx, `
		SELECT final_balance_micros, started_at, completed_at
		FROM arena.player_results
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&res.FinalBalanceMicros, &res.StartedAt, &res.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PlayerResult{}, false, nil
		}
		return PlayerResult{}, false, err
	}
	return res, true, nil
}
