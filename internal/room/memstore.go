package room

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an EntityStore backed by maps. It implements the same
// versioned compare-and-swap contract as the Postgres store and is used by
// the test suite and for running the service without a database.
type MemoryStore struct {
	mu          sync.Mutex
	rooms       map[string]Room
	memberships map[string]PlayerMembership
	records     map[string]CompletionRecord

	// RecordWrites counts completion-record upserts, letting tests assert
	// that reconciling a stable room performs no writes.
	RecordWrites int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]Room),
		memberships: make(map[string]PlayerMembership),
		records:     make(map[string]CompletionRecord),
	}
}

func (s *MemoryStore) InsertRoom(_ context.Context, r Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; ok {
		return fmt.Errorf("room %s already exists", r.ID)
	}
	s.rooms[r.ID] = r
	return nil
}

func (s *MemoryStore) Room(_ context.Context, id string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r, nil
}

func (s *MemoryStore) SwapRoom(_ context.Context, r Room, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	r.Version = expectedVersion + 1
	s.rooms[r.ID] = r
	return nil
}

func (s *MemoryStore) RoomsByStatus(_ context.Context, statuses ...RoomStatus) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Room
	for _, r := range s.rooms {
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertMembership(_ context.Context, m PlayerMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.memberships {
		if cur.RoomID == m.RoomID && cur.UserID == m.UserID {
			return ErrDuplicateMember
		}
	}
	s.memberships[m.ID] = m
	return nil
}

func (s *MemoryStore) Membership(_ context.Context, id string) (PlayerMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[id]
	if !ok {
		return PlayerMembership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (s *MemoryStore) Memberships(_ context.Context, roomID string) ([]PlayerMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PlayerMembership
	for _, m := range s.memberships {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) SwapMembership(_ context.Context, m PlayerMembership, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.memberships[m.ID]
	if !ok {
		return ErrMembershipNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	m.Version = expectedVersion + 1
	s.memberships[m.ID] = m
	return nil
}

func (s *MemoryStore) UpsertCompletionRecord(_ context.Context, rec CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.RoomID] = rec
	s.RecordWrites++
	return nil
}

func (s *MemoryStore) CompletionRecord(_ context.Context, roomID string) (CompletionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[roomID]
	if !ok {
		return CompletionRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

// RecordCount reports how many completion records exist, for invariant checks.
func (s *MemoryStore) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
