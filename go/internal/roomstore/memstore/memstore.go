// Package memstore is an in-memory roomstore.Store used by tests and
// single-process local runs. Snapshot delivery is synchronous and
// sequential per subscription, which keeps test scenarios deterministic.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// Store implements roomstore.Store over a process-local map.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	subs  map[string]map[int64]*subscriber
	next  int64
}

type subscriber struct {
	mu sync.Mutex // serializes callback delivery
	fn func(roomstore.Snapshot)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms: make(map[string]*models.Room),
		subs:  make(map[string]map[int64]*subscriber),
	}
}

func (s *Store) Create(ctx context.Context, room *models.Room) (string, error) {
	id := uuid.New().String()
	cp := clone(room)
	cp.ID = id

	s.mu.Lock()
	s.rooms[id] = cp
	s.mu.Unlock()

	s.notify(id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return nil, roomstore.ErrNotFound
	}
	cp := clone(room)
	s.mu.Unlock()
	return cp, nil
}

func (s *Store) Update(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrNotFound
	}
	if err := roomstore.ApplyFields(room, fields); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(id)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, existed := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if existed {
		s.notify(id)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q roomstore.Query) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Room
	for _, room := range s.rooms {
		if !roomstore.Matches(room, q) {
			continue
		}
		out = append(out, clone(room))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, id string, fn func(roomstore.Snapshot)) (roomstore.UnsubscribeFunc, error) {
	sub := &subscriber{fn: fn}

	s.mu.Lock()
	s.next++
	key := s.next
	if s.subs[id] == nil {
		s.subs[id] = make(map[int64]*subscriber)
	}
	s.subs[id][key] = sub
	s.mu.Unlock()

	// Initial snapshot reflects the current state.
	s.deliver(id, sub)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[id], key)
			s.mu.Unlock()
		})
	}
	return unsub, nil
}

func (s *Store) IncrementField(ctx context.Context, id string, path string, delta int64) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return roomstore.ErrNotFound
	}
	var err error
	switch path {
	case roomstore.VotesField(models.RolePlayer1):
		room.Votes.Player1 += delta
	case roomstore.VotesField(models.RolePlayer2):
		room.Votes.Player2 += delta
	default:
		err = roomstore.ApplyFields(room, map[string]any{path: delta})
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(id)
	return nil
}

// notify delivers the latest snapshot of id to every subscriber.
func (s *Store) notify(id string) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[id]))
	for _, sub := range s.subs[id] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(id, sub)
	}
}

func (s *Store) deliver(id string, sub *subscriber) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	var snap roomstore.Snapshot
	if ok {
		snap = roomstore.Snapshot{ID: id, Room: clone(room)}
	} else {
		snap = roomstore.Snapshot{ID: id, Deleted: true}
	}
	s.mu.Unlock()

	sub.mu.Lock()
	sub.fn(snap)
	sub.mu.Unlock()
}

func clone(room *models.Room) *models.Room {
	cp := *room
	if room.Player1 != nil {
		p := *room.Player1
		cp.Player1 = &p
	}
	if room.Player2 != nil {
		p := *room.Player2
		cp.Player2 = &p
	}
	return &cp
}
