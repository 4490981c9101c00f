package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/memstore"
)

const (
	testInterval = 5 * time.Second
	testMisses   = 3
)

func seedRoom(t *testing.T, store *memstore.Store, clock clockwork.Clock) string {
	t.Helper()
	now := clock.Now().UnixMilli()
	id, err := store.Create(context.Background(), &models.Room{
		Status:       models.StatusPlaying,
		Player1:      models.NewParticipant(models.Identity{UID: "p1"}),
		Player2:      models.NewParticipant(models.Identity{UID: "p2"}),
		CreatedAt:    now,
		LastActivity: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

// waitUntil polls cond until it holds or the deadline passes. Heartbeat
// writes land asynchronously after a fake-clock advance.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeartbeatRefreshesLivenessFields(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)
	id := seedRoom(t, store, clock)

	ctx := context.Background()
	hb := m.Start(ctx, id, models.RolePlayer1, true)
	defer hb.Stop()

	clock.BlockUntil(1)
	clock.Advance(testInterval)
	tick1 := clock.Now().UnixMilli()

	waitUntil(t, func() bool {
		room, _ := store.Get(ctx, id)
		return room.Player1.LastSeen == tick1
	})
	room, _ := store.Get(ctx, id)
	if !room.Player1.Online {
		t.Error("online flag not refreshed")
	}
	if !room.Player1.IsSearching {
		t.Error("isSearching should still carry the seeded value")
	}
	if room.LastActivity != tick1 {
		t.Errorf("lastActivity = %d, want %d", room.LastActivity, tick1)
	}

	// Flip the searching flag; the next tick writes the new value.
	hb.SetSearching(false)
	clock.Advance(testInterval)
	tick2 := clock.Now().UnixMilli()
	waitUntil(t, func() bool {
		room, _ := store.Get(ctx, id)
		return room.Player1.LastSeen == tick2 && !room.Player1.IsSearching
	})
}

func TestHeartbeatStopsWhenRoomDeleted(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)
	id := seedRoom(t, store, clock)

	ctx := context.Background()
	hb := m.Start(ctx, id, models.RolePlayer1, false)

	clock.BlockUntil(1)
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	clock.Advance(testInterval)

	select {
	case <-hb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not exit after room deletion")
	}
	hb.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)
	id := seedRoom(t, store, clock)

	hb := m.Start(context.Background(), id, models.RolePlayer2, true)
	hb.Stop()
	hb.Stop()
}

func TestPeerOnlineByLastSeen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMonitor(memstore.New(), clock, testInterval, testMisses)
	now := clock.Now().UnixMilli()
	threshold := int64(testMisses) * testInterval.Milliseconds()

	room := &models.Room{
		Player1: models.NewParticipant(models.Identity{UID: "p1"}),
		Player2: models.NewParticipant(models.Identity{UID: "p2"}),
	}

	room.Player2.LastSeen = now
	if !m.PeerOnline(room, models.RolePlayer2) {
		t.Error("fresh heartbeat should count as online")
	}

	room.Player2.LastSeen = now - threshold - 1
	if m.PeerOnline(room, models.RolePlayer2) {
		t.Error("heartbeat past the miss threshold should count as offline")
	}

	room.Player2.LastSeen = now
	room.Player2.Online = false
	if m.PeerOnline(room, models.RolePlayer2) {
		t.Error("explicit offline flag wins regardless of recency")
	}

	if m.PeerOnline(&models.Room{Player1: room.Player1}, models.RolePlayer2) {
		t.Error("absent participant is offline")
	}
}

func TestPeerOnlineFallsBackToLastActivity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMonitor(memstore.New(), clock, testInterval, testMisses)
	now := clock.Now().UnixMilli()

	room := &models.Room{
		Player1:      models.NewParticipant(models.Identity{UID: "p1"}),
		Player2:      models.NewParticipant(models.Identity{UID: "p2"}),
		LastActivity: now,
	}

	if !m.PeerOnline(room, models.RolePlayer2) {
		t.Error("recent lastActivity should count when lastSeen is unset")
	}

	room.LastActivity = now - int64(testMisses)*testInterval.Milliseconds() - 1
	if m.PeerOnline(room, models.RolePlayer2) {
		t.Error("stale lastActivity should count as offline")
	}
}

func TestShutdownForfeitsLiveMatch(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)
	id := seedRoom(t, store, clock)

	ctx := context.Background()
	if err := m.Shutdown(ctx, id, models.RolePlayer1); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	room, _ := store.Get(ctx, id)
	if room.Player1.Online {
		t.Error("departing side should be marked offline")
	}
	if room.Status != models.StatusFinished {
		t.Errorf("status = %s, want finished", room.Status)
	}
	if room.Winner != models.WinnerPlayer2 {
		t.Errorf("winner = %s, want player2 by forfeit", room.Winner)
	}
}

func TestShutdownLeavesUnmatchedRoomAlone(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)

	ctx := context.Background()
	id, _ := store.Create(ctx, &models.Room{
		Status:  models.StatusWaiting,
		Player1: models.NewParticipant(models.Identity{UID: "p1"}),
	})

	if err := m.Shutdown(ctx, id, models.RolePlayer1); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	room, _ := store.Get(ctx, id)
	if room.Status != models.StatusWaiting {
		t.Errorf("status = %s, want waiting untouched", room.Status)
	}
	if room.Winner != "" {
		t.Errorf("winner = %q, want empty", room.Winner)
	}
}

func TestShutdownDoesNotOverrideFinishedResult(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	m := NewMonitor(store, clock, testInterval, testMisses)
	id := seedRoom(t, store, clock)

	ctx := context.Background()
	store.Update(ctx, id, map[string]any{
		"status": models.StatusFinished,
		"winner": models.WinnerPlayer1,
	})

	if err := m.Shutdown(ctx, id, models.RolePlayer2); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	room, _ := store.Get(ctx, id)
	if room.Winner != models.WinnerPlayer1 {
		t.Errorf("winner = %s, settled result must stand", room.Winner)
	}
}

func TestShutdownOnMissingRoomIsClean(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMonitor(memstore.New(), clock, testInterval, testMisses)
	if err := m.Shutdown(context.Background(), "gone", models.RolePlayer1); err != nil {
		t.Fatalf("Shutdown on missing room: %v", err)
	}
}
