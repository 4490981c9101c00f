package battle

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// EventKind classifies runner notifications to the hosting client.
type EventKind int

const (
	// EventUpdate delivers every observed room snapshot.
	EventUpdate EventKind = iota
	// EventVoting fires once when the room enters the voting phase.
	EventVoting
	// EventFinished fires once when a winner is recorded.
	EventFinished
	// EventAborted fires when the room vanished; Room is nil.
	EventAborted
)

// Event is one runner notification.
type Event struct {
	Kind EventKind
	Room *models.Room
}

// PeerChecker derives opponent liveness from a snapshot.
type PeerChecker interface {
	PeerOnline(room *models.Room, peer models.Role) bool
}

// Runner drives the state machine for one client by subscribing to the
// room and applying the proposed guarded writes. Local timers are
// advisory; the subscription feed is authoritative.
type Runner struct {
	store    roomstore.Store
	clock    clockwork.Clock
	peers    PeerChecker
	duration time.Duration

	roomID string
	role   models.Role
	notify func(Event)

	snapshots chan roomstore.Snapshot
}

// NewRunner builds a runner for one room and role. notify receives
// lifecycle events; it is called from the runner goroutine.
func NewRunner(store roomstore.Store, clock clockwork.Clock, peers PeerChecker, duration time.Duration, roomID string, role models.Role, notify func(Event)) *Runner {
	return &Runner{
		store:     store,
		clock:     clock,
		peers:     peers,
		duration:  duration,
		roomID:    roomID,
		role:      role,
		notify:    notify,
		snapshots: make(chan roomstore.Snapshot, 16),
	}
}

// Run subscribes and processes snapshots until the room finishes, is
// deleted, or ctx is cancelled. It returns nil on a clean finish and on
// abort; the abort is reported through the event feed.
func (r *Runner) Run(ctx context.Context) error {
	unsub, err := r.store.Subscribe(ctx, r.roomID, func(snap roomstore.Snapshot) {
		select {
		case r.snapshots <- snap:
		default:
			// Channel full: drop the older snapshot, the newest state
			// supersedes it anyway.
			select {
			case <-r.snapshots:
			default:
			}
			r.snapshots <- snap
		}
	})
	if err != nil {
		return err
	}
	defer unsub()

	countdown := r.clock.NewTimer(time.Hour)
	countdown.Stop()
	defer countdown.Stop()

	var (
		timerArmed bool
		timeUp     bool
		votingSeen bool
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-countdown.Chan():
			timeUp = true
			// Re-read so the decision is made on fresh state, not on
			// whatever snapshot happened to arrive last.
			room, err := r.store.Get(ctx, r.roomID)
			if err != nil {
				if errors.Is(err, roomstore.ErrNotFound) {
					r.notify(Event{Kind: EventAborted})
					return nil
				}
				log.Warn().Err(err).Str("room_id", r.roomID).Msg("countdown re-read failed")
				continue
			}
			r.apply(ctx, roomstore.Snapshot{ID: r.roomID, Room: room}, timeUp)

		case snap := <-r.snapshots:
			if snap.Deleted {
				r.notify(Event{Kind: EventAborted})
				return nil
			}
			room := snap.Room

			// Arm the countdown once a shared startTime exists, so both
			// clients measure the same deadline.
			if !timerArmed && room.StartTime > 0 {
				deadline := time.UnixMilli(room.StartTime).Add(r.duration)
				wait := deadline.Sub(r.clock.Now())
				if wait < 0 {
					wait = 0
				}
				countdown.Reset(wait)
				timerArmed = true
			}

			r.notify(Event{Kind: EventUpdate, Room: room})

			if room.Status == models.StatusVoting && !votingSeen {
				votingSeen = true
				countdown.Stop()
				r.notify(Event{Kind: EventVoting, Room: room})
			}
			if room.Status == models.StatusFinished {
				countdown.Stop()
				r.notify(Event{Kind: EventFinished, Room: room})
				return nil
			}

			r.apply(ctx, snap, timeUp)
		}
	}
}

// apply evaluates the pure transition function and performs its
// proposed write. Write failures are logged only; the next snapshot or
// timer tick re-derives the decision.
func (r *Runner) apply(ctx context.Context, snap roomstore.Snapshot, timeUp bool) {
	action := NextAction(Inputs{
		Snapshot:   snap,
		Now:        r.clock.Now().UnixMilli(),
		TimeUp:     timeUp,
		PeerOnline: r.peers.PeerOnline(snap.Room, r.role.Peer()),
	})
	if action.Kind != ActionWrite {
		return
	}

	log.Info().
		Str("room_id", r.roomID).
		Str("reason", action.Reason).
		Msg("advancing room state")
	if err := r.store.Update(ctx, r.roomID, action.Fields); err != nil && !errors.Is(err, roomstore.ErrNotFound) {
		log.Warn().Err(err).Str("room_id", r.roomID).Msg("state transition write failed")
	}
}
