// Package natsstore backs the room store with a NATS JetStream
// key-value bucket. Each room is one JSON document per key; partial
// field updates and increments are realized with revision-guarded
// compare-and-swap loops, and subscriptions ride on bucket watchers.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

const (
	// Bucket is the KV bucket holding room documents.
	Bucket = "sketchduel_rooms"

	// maxCASAttempts bounds the update retry loop when both clients
	// write the same document concurrently.
	maxCASAttempts = 10
)

// Store implements roomstore.Store on a JetStream KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// New ensures the bucket exists and returns a store bound to it.
func New(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      Bucket,
		Description: "sketchduel battle room documents",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure KV bucket: %w", err)
	}
	return &Store{kv: kv}, nil
}

func (s *Store) Create(ctx context.Context, room *models.Room) (string, error) {
	id := uuid.New().String()
	cp := *room
	cp.ID = id

	data, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode room: %w", err)
	}
	if _, err := s.kv.Create(ctx, id, data); err != nil {
		return "", fmt.Errorf("%w: create room: %v", roomstore.ErrUnavailable, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Room, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, roomstore.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get room: %v", roomstore.ErrUnavailable, err)
	}
	return decode(id, entry.Value())
}

func (s *Store) Update(ctx context.Context, id string, fields map[string]any) error {
	return s.cas(ctx, id, func(room *models.Room) error {
		return roomstore.ApplyFields(room, fields)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Purge(ctx, id); err != nil {
		return fmt.Errorf("%w: delete room: %v", roomstore.ErrUnavailable, err)
	}
	return nil
}

// Query scans the bucket client-side; KV buckets have no server-side
// filtering. Room counts are tiny (active matches only, reaped on TTL),
// so the scan stays cheap.
func (s *Store) Query(ctx context.Context, q roomstore.Query) ([]*models.Room, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list rooms: %v", roomstore.ErrUnavailable, err)
	}
	defer lister.Stop()

	var out []*models.Room
	for key := range lister.Keys() {
		room, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, roomstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !roomstore.Matches(room, q) {
			continue
		}
		out = append(out, room)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, id string, fn func(roomstore.Snapshot)) (roomstore.UnsubscribeFunc, error) {
	watcher, err := s.kv.Watch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: watch room: %v", roomstore.ErrUnavailable, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End-of-initial-values marker.
					continue
				}
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					fn(roomstore.Snapshot{ID: id, Deleted: true})
				default:
					room, err := decode(id, entry.Value())
					if err != nil {
						log.Error().Err(err).Str("room_id", id).Msg("dropping undecodable room snapshot")
						continue
					}
					fn(roomstore.Snapshot{ID: id, Room: room})
				}
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			close(done)
			if err := watcher.Stop(); err != nil {
				log.Debug().Err(err).Str("room_id", id).Msg("stopping room watcher")
			}
		})
	}
	return unsub, nil
}

func (s *Store) IncrementField(ctx context.Context, id string, path string, delta int64) error {
	return s.cas(ctx, id, func(room *models.Room) error {
		switch path {
		case roomstore.VotesField(models.RolePlayer1):
			room.Votes.Player1 += delta
		case roomstore.VotesField(models.RolePlayer2):
			room.Votes.Player2 += delta
		default:
			return fmt.Errorf("field %s is not numeric", path)
		}
		return nil
	})
}

// cas runs a bounded read-mutate-update loop guarded by the entry
// revision, so concurrent writers from both clients serialize instead
// of losing updates.
func (s *Store) cas(ctx context.Context, id string, mutate func(*models.Room) error) error {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, id)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return roomstore.ErrNotFound
			}
			return fmt.Errorf("%w: get room: %v", roomstore.ErrUnavailable, err)
		}

		room, err := decode(id, entry.Value())
		if err != nil {
			return err
		}
		if err := mutate(room); err != nil {
			return err
		}

		data, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("encode room: %w", err)
		}
		if _, err := s.kv.Update(ctx, id, data, entry.Revision()); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: update contention on room %s: %v", roomstore.ErrUnavailable, id, lastErr)
}

func decode(id string, data []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	room.ID = id
	return &room, nil
}
