package battle

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/memstore"
)

type stubPeers struct{ online bool }

func (s stubPeers) PeerOnline(*models.Room, models.Role) bool { return s.online }

func matchedRoom(now int64) *models.Room {
	return &models.Room{
		Status:       models.StatusReady,
		Player1:      models.NewParticipant(models.Identity{UID: "p1"}),
		Player2:      models.NewParticipant(models.Identity{UID: "p2"}),
		CreatedAt:    now,
		LastActivity: now,
	}
}

func collect() (func(Event), chan Event) {
	ch := make(chan Event, 32)
	return func(ev Event) { ch <- ev }, ch
}

func waitFor(t *testing.T, ch chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

func TestTwoRunnersConvergeOnSharedStart(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := store.Create(ctx, matchedRoom(clock.Now().UnixMilli()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	notify1, ch1 := collect()
	notify2, ch2 := collect()
	r1 := NewRunner(store, clock, stubPeers{online: true}, time.Hour, id, models.RolePlayer1, notify1)
	r2 := NewRunner(store, clock, stubPeers{online: true}, time.Hour, id, models.RolePlayer2, notify2)

	go r1.Run(ctx)
	go r2.Run(ctx)

	// Both sides may race the guarded start write; what matters is that
	// every client converges on the value that settled in the store.
	var settled int64
	deadline := time.Now().Add(2 * time.Second)
	for {
		room, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if room.Status == models.StatusPlaying {
			settled = room.StartTime
		}
		if settled > 0 {
			time.Sleep(100 * time.Millisecond)
			room, _ = store.Get(ctx, id)
			if room.StartTime == settled {
				break
			}
			settled = room.StartTime
		}
		if time.Now().After(deadline) {
			t.Fatal("room never settled into playing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, ch := range []chan Event{ch1, ch2} {
		for {
			ev := waitFor(t, ch, EventUpdate)
			if ev.Room.Status == models.StatusPlaying && ev.Room.StartTime == settled {
				break
			}
		}
	}
}

func TestCountdownExpiryMovesRoomToVoting(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := matchedRoom(clock.Now().UnixMilli())
	room.Status = models.StatusPlaying
	room.StartTime = clock.Now().UnixMilli()
	id, _ := store.Create(ctx, room)

	notify, ch := collect()
	r := NewRunner(store, clock, stubPeers{online: true}, 50*time.Millisecond, id, models.RolePlayer1, notify)
	go r.Run(ctx)

	ev := waitFor(t, ch, EventVoting)
	if ev.Room.Status != models.StatusVoting {
		t.Fatalf("status = %s, want voting", ev.Room.Status)
	}
	if ev.Room.EndTime == 0 {
		t.Error("endTime not recorded")
	}
}

func TestPeerOfflineMovesRoomToVoting(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := matchedRoom(clock.Now().UnixMilli())
	room.Status = models.StatusPlaying
	room.StartTime = clock.Now().UnixMilli()
	id, _ := store.Create(ctx, room)

	notify, ch := collect()
	r := NewRunner(store, clock, stubPeers{online: false}, time.Hour, id, models.RolePlayer1, notify)
	go r.Run(ctx)

	ev := waitFor(t, ch, EventVoting)
	if ev.Room.Status != models.StatusVoting {
		t.Fatalf("status = %s, want voting", ev.Room.Status)
	}
}

func TestRoomDeletionAborts(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := store.Create(ctx, matchedRoom(clock.Now().UnixMilli()))

	notify, ch := collect()
	r := NewRunner(store, clock, stubPeers{online: true}, time.Hour, id, models.RolePlayer1, notify)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let the initial snapshot land, then pull the room out from under
	// the runner.
	waitFor(t, ch, EventUpdate)
	store.Delete(ctx, id)

	waitFor(t, ch, EventAborted)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on abort", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after abort")
	}
}

func TestFinishedRoomEndsRun(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := store.Create(ctx, matchedRoom(clock.Now().UnixMilli()))

	notify, ch := collect()
	r := NewRunner(store, clock, stubPeers{online: true}, time.Hour, id, models.RolePlayer1, notify)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitFor(t, ch, EventUpdate)

	store.Update(ctx, id, map[string]any{
		"status": models.StatusFinished,
		"winner": models.WinnerPlayer1,
	})

	ev := waitFor(t, ch, EventFinished)
	if ev.Room.Winner != models.WinnerPlayer1 {
		t.Errorf("winner = %s", ev.Room.Winner)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on finish", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after finish")
	}
}
