// Package liveness keeps the local participant's "I am alive" fields
// fresh and derives the peer's liveness from the shared document. A
// frozen client never clears its own online flag, so peer liveness also
// considers how long lastActivity has been stale.
package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// Monitor creates heartbeats and answers peer-liveness questions.
type Monitor struct {
	store    roomstore.Store
	clock    clockwork.Clock
	interval time.Duration
	misses   int
}

// NewMonitor creates a monitor. misses is how many silent intervals
// before a peer counts as disconnected.
func NewMonitor(store roomstore.Store, clock clockwork.Clock, interval time.Duration, misses int) *Monitor {
	return &Monitor{
		store:    store,
		clock:    clock,
		interval: interval,
		misses:   misses,
	}
}

// Heartbeat is an owned, cancellable refresh task. The caller holds it
// and stops it when leaving the room; there is no process-wide state.
type Heartbeat struct {
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
	searching atomic.Bool
}

// Start begins a repeating best-effort refresh of the role's liveness
// fields. searching seeds the isSearching flag; flip it with
// SetSearching when the phase changes.
func (m *Monitor) Start(ctx context.Context, roomID string, role models.Role, searching bool) *Heartbeat {
	h := &Heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	h.searching.Store(searching)

	go m.run(ctx, roomID, role, h)
	return h
}

// SetSearching updates the flag written on subsequent ticks.
func (h *Heartbeat) SetSearching(v bool) {
	h.searching.Store(v)
}

// Stop cancels the heartbeat and waits for the loop to exit. Safe to
// call more than once.
func (h *Heartbeat) Stop() {
	h.once.Do(func() {
		close(h.stop)
	})
	<-h.done
}

func (m *Monitor) run(ctx context.Context, roomID string, role models.Role, h *Heartbeat) {
	defer close(h.done)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.Chan():
			now := m.clock.Now().UnixMilli()
			err := m.store.Update(ctx, roomID, map[string]any{
				roomstore.OnlineField(role):    true,
				roomstore.SearchingField(role): h.searching.Load(),
				roomstore.LastSeenField(role):  now,
				"lastActivity":                 now,
			})
			switch {
			case err == nil:
			case errors.Is(err, roomstore.ErrNotFound):
				// Room was deleted under us; nothing left to refresh.
				log.Debug().Str("room_id", roomID).Msg("heartbeat stopping, room deleted")
				return
			default:
				// Swallowed; the next tick retries.
				log.Warn().Err(err).Str("room_id", roomID).Msg("heartbeat write failed")
			}
		}
	}
}

// PeerOnline reports the derived liveness of a participant: its own
// online flag, and its heartbeat timestamp no staler than the miss
// threshold. The participant-authored lastSeen is preferred over the
// shared lastActivity, which either side's heartbeat refreshes.
func (m *Monitor) PeerOnline(room *models.Room, peer models.Role) bool {
	p := room.ParticipantFor(peer)
	if p == nil || !p.Online {
		return false
	}
	last := p.LastSeen
	if last == 0 {
		last = room.LastActivity
	}
	if last > 0 {
		silence := m.clock.Now().UnixMilli() - last
		if silence > int64(m.misses)*m.interval.Milliseconds() {
			return false
		}
	}
	return true
}

// Shutdown performs the terminal write for an abrupt exit: our online
// flag goes false, and if the match is still live the peer is declared
// winner by forfeit.
func (m *Monitor) Shutdown(ctx context.Context, roomID string, role models.Role) error {
	room, err := m.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return nil
		}
		return err
	}

	fields := map[string]any{
		roomstore.OnlineField(role): false,
	}
	if room.Matched() && room.Status != models.StatusFinished {
		fields["status"] = models.StatusFinished
		fields["winner"] = role.Peer().Winner()
	}

	if err := m.store.Update(ctx, roomID, fields); err != nil && !errors.Is(err, roomstore.ErrNotFound) {
		return err
	}
	return nil
}
