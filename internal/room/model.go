package room

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MicrosPerToken = int64(1_000_000)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrForbiddenTransition = errors.New("forbidden status transition")
	ErrConflict            = errors.New("concurrent modification, retry with a fresh read")
	ErrStoreUnavailable    = errors.New("entity store unavailable")
	ErrDetectionTimeout    = errors.New("completion detection timed out")
	ErrRoomNotFound        = errors.New("room not found")
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrRecordNotFound      = errors.New("completion record not found")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomClosed          = errors.New("room no longer accepts players")
	ErrNotEnoughPlayers    = errors.New("not enough players to start")
	ErrDuplicateMember     = errors.New("user already joined this room")
	ErrInvalidBounds       = errors.New("invalid player bounds")
)

type RoomStatus string

const (
	RoomOpen       RoomStatus = "open"
	RoomPreparing  RoomStatus = "preparing"
	RoomInProgress RoomStatus = "in_progress"
	RoomCompleted  RoomStatus = "completed"
)

type MemberStatus string

const (
	MemberJoined    MemberStatus = "joined"
	MemberInGame    MemberStatus = "in_game"
	MemberCompleted MemberStatus = "completed"
	MemberLeft      MemberStatus = "left"
	MemberKicked    MemberStatus = "kicked"
)

func ParseRoomStatus(s string) (RoomStatus, error) {
	switch RoomStatus(strings.ToLower(strings.TrimSpace(s))) {
	case RoomOpen:
		return RoomOpen, nil
	case RoomPreparing:
		return RoomPreparing, nil
	case RoomInProgress:
		return RoomInProgress, nil
	case RoomCompleted:
		return RoomCompleted, nil
	}
	return "", fmt.Errorf("unknown room status %q", s)
}

func ParseMemberStatus(s string) (MemberStatus, error) {
	switch MemberStatus(strings.ToLower(strings.TrimSpace(s))) {
	case MemberJoined:
		return MemberJoined, nil
	case MemberInGame:
		return MemberInGame, nil
	case MemberCompleted:
		return MemberCompleted, nil
	case MemberLeft:
		return MemberLeft, nil
	case MemberKicked:
		return MemberKicked, nil
	}
	return "", fmt.Errorf("unknown member status %q", s)
}

type Room struct {
	ID          string     `json:"id"`
	Status      RoomStatus `json:"status"`
	MinPlayers  int        `json:"min_players"`
	MaxPlayers  int        `json:"max_players"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int64      `json:"-"`
}

type PlayerMembership struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"room_id"`
	UserID      string       `json:"user_id"`
	Status      MemberStatus `json:"status"`
	JoinedAt    time.Time    `json:"joined_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Version     int64        `json:"-"`
}

// Active reports whether the membership still counts toward room completion.
// Departed players can never complete, so they are permanently excluded.
func (m PlayerMembership) Active() bool {
	return m.Status != MemberLeft && m.Status != MemberKicked
}

type CompletionRecord struct {
	RoomID               string    `json:"room_id"`
	CompletedAt          time.Time `json:"completed_at"`
	PlayerCount          int       `json:"player_count"`
	CompletedPlayerCount int       `json:"completed_player_count"`

	CompletionDuration    *time.Duration `json:"completion_duration,omitempty"`
	FastestPlayerDuration *time.Duration `json:"fastest_player_duration,omitempty"`
	SlowestPlayerDuration *time.Duration `json:"slowest_player_duration,omitempty"`

	AverageBalanceMicros int64 `json:"average_balance_micros"`
	HighestBalanceMicros int64 `json:"highest_balance_micros"`
	LowestBalanceMicros  int64 `json:"lowest_balance_micros"`

	// Degraded marks a record whose balance or timing statistics were
	// computed with result data partially or fully missing.
	Degraded bool `json:"degraded"`
}

// PlayerResult is the per-player outcome reported by the trading results
// collaborator. Any field may be missing for a given player.
type PlayerResult struct {
	FinalBalanceMicros int64
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

func validateBounds(minPlayers, maxPlayers int) error {
	if minPlayers < 1 {
		return fmt.Errorf("%w: min_players must be >= 1", ErrInvalidBounds)
	}
	if maxPlayers < minPlayers {
		return fmt.Errorf("%w: max_players must be >= min_players", ErrInvalidBounds)
	}
	return nil
}
