// Package pgstore backs the room store with Postgres. Rooms live in a
// single table as JSONB documents; partial field updates compile to
// jsonb_set expressions so concurrent writers only touch the paths they
// own, and change subscriptions ride on LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// NotifyChannel is the Postgres channel room change ids are published on.
const NotifyChannel = "sketchduel_room_changes"

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id  UUID PRIMARY KEY,
    doc JSONB NOT NULL
)`

// Store implements roomstore.Store on a Postgres pool.
type Store struct {
	pool     *pgxpool.Pool
	listener *listener
}

// New connects the pool, ensures the schema, and starts the
// notification listener.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure rooms table: %w", err)
	}

	s := &Store{pool: pool}
	s.listener = newListener(dsn, s.fetchSnapshot)
	return s, nil
}

// Close stops the listener and releases the pool.
func (s *Store) Close() {
	s.listener.close()
	s.pool.Close()
}

func (s *Store) Create(ctx context.Context, room *models.Room) (string, error) {
	id := uuid.New().String()
	cp := *room
	cp.ID = id

	doc, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode room: %w", err)
	}

	const q = `
WITH inserted AS (
    INSERT INTO rooms (id, doc) VALUES ($1, $2) RETURNING id
)
SELECT pg_notify($3, id::text) FROM inserted`
	if _, err := s.pool.Exec(ctx, q, id, doc, NotifyChannel); err != nil {
		return "", fmt.Errorf("%w: create room: %v", roomstore.ErrUnavailable, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Room, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roomstore.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get room: %v", roomstore.ErrUnavailable, err)
	}
	return decode(id, doc)
}

func (s *Store) Update(ctx context.Context, id string, fields map[string]any) error {
	expr := "doc"
	args := []any{id}
	for path, value := range fields {
		encoded, err := encodeValue(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		args = append(args, jsonPath(path), encoded)
		expr = fmt.Sprintf("jsonb_set(%s, $%d, $%d::jsonb, true)", expr, len(args)-1, len(args))
	}
	args = append(args, NotifyChannel)

	q := fmt.Sprintf(`
WITH updated AS (
    UPDATE rooms SET doc = %s WHERE id = $1 RETURNING id
)
SELECT pg_notify($%d, id::text) FROM updated`, expr, len(args))

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update room: %v", roomstore.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `
WITH deleted AS (
    DELETE FROM rooms WHERE id = $1 RETURNING id
)
SELECT pg_notify($2, id::text) FROM deleted`
	if _, err := s.pool.Exec(ctx, q, id, NotifyChannel); err != nil {
		return fmt.Errorf("%w: delete room: %v", roomstore.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q roomstore.Query) ([]*models.Room, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Status != "" {
		where = append(where, fmt.Sprintf("doc->>'status' = %s", arg(string(q.Status))))
	}
	if q.CreatedAfter != 0 {
		where = append(where, fmt.Sprintf("(doc->>'createdAt')::bigint > %s", arg(q.CreatedAfter)))
	}
	if q.CreatedBefore != 0 {
		where = append(where, fmt.Sprintf("(doc->>'createdAt')::bigint < %s", arg(q.CreatedBefore)))
	}
	if q.Player1Online != nil {
		where = append(where, fmt.Sprintf("(doc#>>'{player1,online}')::boolean = %s", arg(*q.Player1Online)))
	}
	if q.Player1Searching != nil {
		where = append(where, fmt.Sprintf("(doc#>>'{player1,isSearching}')::boolean = %s", arg(*q.Player1Searching)))
	}

	sql := `SELECT id, doc FROM rooms`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query rooms: %v", roomstore.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("%w: scan room: %v", roomstore.ErrUnavailable, err)
		}
		room, err := decode(id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query rooms: %v", roomstore.ErrUnavailable, err)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, id string, fn func(roomstore.Snapshot)) (roomstore.UnsubscribeFunc, error) {
	return s.listener.subscribe(id, fn), nil
}

func (s *Store) IncrementField(ctx context.Context, id string, path string, delta int64) error {
	p := jsonPath(path)
	textPath := "{" + strings.Join(strings.Split(path, "."), ",") + "}"

	q := fmt.Sprintf(`
WITH updated AS (
    UPDATE rooms
    SET doc = jsonb_set(doc, $2, to_jsonb(COALESCE((doc#>>'%s')::bigint, 0) + $3), true)
    WHERE id = $1
    RETURNING id
)
SELECT pg_notify($4, id::text) FROM updated`, textPath)

	tag, err := s.pool.Exec(ctx, q, id, p, delta, NotifyChannel)
	if err != nil {
		return fmt.Errorf("%w: increment %s: %v", roomstore.ErrUnavailable, path, err)
	}
	if tag.RowsAffected() == 0 {
		return roomstore.ErrNotFound
	}
	return nil
}

// fetchSnapshot materializes the current state of a room for the
// listener's subscribers.
func (s *Store) fetchSnapshot(ctx context.Context, id string) roomstore.Snapshot {
	room, err := s.Get(ctx, id)
	if err != nil {
		return roomstore.Snapshot{ID: id, Deleted: true}
	}
	return roomstore.Snapshot{ID: id, Room: room}
}

func jsonPath(dotted string) []string {
	return strings.Split(dotted, ".")
}

func encodeValue(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decode(id string, doc []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	room.ID = id
	return &room, nil
}
