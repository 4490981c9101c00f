package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

func newRoom(uid string) *models.Room {
	return &models.Room{
		Status:    models.StatusWaiting,
		Topic:     models.Topic{ID: 1, Label: "🏠 บ้าน", Difficulty: models.DifficultyEasy},
		Player1:   models.NewParticipant(models.Identity{UID: uid, Email: uid + "@example.com"}),
		CreatedAt: 1000,
	}
}

func TestCreateAssignsIDAndGetRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, newRoom("u1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}

	room, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if room.ID != id {
		t.Errorf("ID = %q, want %q", room.ID, id)
	}
	if room.Player1.UID != "u1" {
		t.Errorf("player1.uid = %q, want u1", room.Player1.UID)
	}
}

func TestGetUnknownIsNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, roomstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAppliesNarrowFieldPaths(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	err := s.Update(ctx, id, map[string]any{
		"status":           models.StatusReady,
		"player1.online":   false,
		"player2":          models.NewParticipant(models.Identity{UID: "u2"}),
		"lastActivity":     int64(2000),
		"player1.drawing":  "data:image/png;base64,AAAA",
		"player1.lastSeen": int64(2000),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	room, _ := s.Get(ctx, id)
	if room.Status != models.StatusReady {
		t.Errorf("status = %s", room.Status)
	}
	if room.Player1.Online {
		t.Error("player1.online should be false")
	}
	if room.Player1.Drawing == "" || room.Player1.LastSeen != 2000 {
		t.Errorf("player1 fields not applied: %+v", room.Player1)
	}
	if room.Player2 == nil || room.Player2.UID != "u2" {
		t.Errorf("player2 = %+v", room.Player2)
	}
	if room.LastActivity != 2000 {
		t.Errorf("lastActivity = %d", room.LastActivity)
	}
}

func TestUpdateRejectsUnknownPath(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	if err := s.Update(ctx, id, map[string]any{"nonsense": 1}); err == nil {
		t.Fatal("expected error for unknown field path")
	}
}

func TestIncrementFieldIsCumulative(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	for i := 0; i < 2; i++ {
		if err := s.IncrementField(ctx, id, "votes.player1", 1); err != nil {
			t.Fatalf("IncrementField: %v", err)
		}
	}
	if err := s.IncrementField(ctx, id, "votes.player2", 1); err != nil {
		t.Fatalf("IncrementField: %v", err)
	}

	room, _ := s.Get(ctx, id)
	if room.Votes.Player1 != 2 || room.Votes.Player2 != 1 {
		t.Errorf("votes = %+v, want {2 1}", room.Votes)
	}
}

func TestQueryFiltersAndLimits(t *testing.T) {
	s := New()
	ctx := context.Background()

	waiting := newRoom("u1")
	s.Create(ctx, waiting)

	offline := newRoom("u2")
	offline.Player1.Online = false
	s.Create(ctx, offline)

	old := newRoom("u3")
	old.CreatedAt = 10
	s.Create(ctx, old)

	got, err := s.Query(ctx, roomstore.Query{
		Status:           models.StatusWaiting,
		CreatedAfter:     500,
		Player1Online:    roomstore.Bool(true),
		Player1Searching: roomstore.Bool(true),
		Limit:            1,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rooms, want 1", len(got))
	}
	if got[0].Player1.UID != "u1" {
		t.Errorf("matched %s, want u1's room", got[0].Player1.UID)
	}
}

func TestSubscribeDeliversInitialAndChangeSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	var seen []roomstore.Snapshot
	unsub, err := s.Subscribe(ctx, id, func(snap roomstore.Snapshot) {
		seen = append(seen, snap)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if len(seen) != 1 || seen[0].Room == nil {
		t.Fatalf("expected one initial snapshot, got %d", len(seen))
	}

	s.Update(ctx, id, map[string]any{"status": models.StatusReady})
	if len(seen) != 2 || seen[1].Room.Status != models.StatusReady {
		t.Fatalf("change snapshot missing, seen=%d", len(seen))
	}

	s.Delete(ctx, id)
	if len(seen) != 3 || !seen[2].Deleted {
		t.Fatalf("deletion snapshot missing, seen=%d", len(seen))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	count := 0
	unsub, _ := s.Subscribe(ctx, id, func(roomstore.Snapshot) { count++ })
	unsub()

	s.Update(ctx, id, map[string]any{"status": models.StatusReady})
	if count != 1 {
		t.Fatalf("delivery after unsubscribe, count=%d", count)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _ := s.Create(ctx, newRoom("u1"))

	room, _ := s.Get(ctx, id)
	room.Player1.Online = false
	room.Status = models.StatusFinished

	fresh, _ := s.Get(ctx, id)
	if !fresh.Player1.Online || fresh.Status != models.StatusWaiting {
		t.Error("mutating a returned room leaked into the store")
	}
}
