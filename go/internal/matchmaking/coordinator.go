// Package matchmaking pairs two players into a shared room. The store
// offers no cross-document transactions, so every join is optimistic:
// query a candidate, re-validate it with a fresh read, write player2,
// then confirm with another read that our write survived. Losing any of
// those races just restarts the loop.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
	"github.com/kritsadaz/sketchduel/go/internal/topics"
)

// ErrExhausted is returned when the bounded retry loop gives up. The
// caller surfaces it as a "please try again" failure.
var ErrExhausted = errors.New("matchmaking retries exhausted")

// defaultBackoff paces retries after a store outage. Race-lost retries
// wait too; the pool barely changes in under a beat anyway.
const defaultBackoff = 200 * time.Millisecond

// Sweeper is what the coordinator needs from the stale-room reaper.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Result describes where matchmaking landed the caller.
type Result struct {
	RoomID string
	Role   models.Role
	// Waiting is true when no partner has joined yet: either we created
	// a fresh room or we found our own earlier one still open.
	Waiting bool
}

// Coordinator finds an open room or creates one.
type Coordinator struct {
	store       roomstore.Store
	sweeper     Sweeper
	clock       clockwork.Clock
	window      time.Duration
	maxAttempts int
	backoff     time.Duration
	pickTopic   func() models.Topic
}

// New creates a coordinator. window bounds candidate recency and
// maxAttempts bounds the retry loop.
func New(store roomstore.Store, sweeper Sweeper, clock clockwork.Clock, window time.Duration, maxAttempts int) *Coordinator {
	return &Coordinator{
		store:       store,
		sweeper:     sweeper,
		clock:       clock,
		window:      window,
		maxAttempts: maxAttempts,
		backoff:     defaultBackoff,
		pickTopic:   topics.Random,
	}
}

// FindOrCreate runs the matchmaking procedure for self. On success the
// caller either joined an existing room as player2 or is waiting in a
// room of its own as player1. Store outages and lost races are retried
// with a linear backoff until the attempt budget runs out.
func (c *Coordinator) FindOrCreate(ctx context.Context, self models.Identity) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 && c.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(time.Duration(attempt) * c.backoff):
			}
		}

		res, retry, err := c.attempt(ctx, self)
		switch {
		case err == nil && !retry:
			return res, nil
		case err == nil:
			log.Debug().
				Str("uid", self.UID).
				Int("attempt", attempt+1).
				Msg("matchmaking attempt lost a race, retrying")
		case errors.Is(err, roomstore.ErrUnavailable):
			lastErr = err
			log.Warn().
				Err(err).
				Str("uid", self.UID).
				Int("attempt", attempt+1).
				Msg("store unavailable, backing off")
		default:
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

// attempt performs one pass. retry=true means a candidate went stale or
// a join race was lost and the whole procedure should restart.
func (c *Coordinator) attempt(ctx context.Context, self models.Identity) (res *Result, retry bool, err error) {
	// Opportunistic cleanup; failures never block matchmaking.
	if err := c.sweeper.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("pre-matchmaking sweep failed")
	}

	now := c.clock.Now().UnixMilli()
	candidates, err := c.store.Query(ctx, roomstore.Query{
		Status:           models.StatusWaiting,
		CreatedAfter:     now - c.window.Milliseconds(),
		Player1Online:    roomstore.Bool(true),
		Player1Searching: roomstore.Bool(true),
		Limit:            1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("query waiting rooms: %w", err)
	}

	if len(candidates) == 0 {
		return c.create(ctx, self)
	}

	candidate := candidates[0]
	if candidate.Player1 != nil && candidate.Player1.UID == self.UID {
		// Our own earlier room is still open; keep waiting on it
		// instead of double-booking ourselves.
		return &Result{RoomID: candidate.ID, Role: models.RolePlayer1, Waiting: true}, false, nil
	}

	return c.join(ctx, self, candidate.ID)
}

// join re-validates the candidate with a fresh read, writes player2,
// and confirms the write survived any concurrent joiner.
func (c *Coordinator) join(ctx context.Context, self models.Identity, roomID string) (*Result, bool, error) {
	current, err := c.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("re-validate room %s: %w", roomID, err)
	}

	if !c.joinable(current) {
		// Host left, the room got claimed, or the room aged out between
		// the query snapshot and now. Clear it out of the pool and start
		// over.
		if err := c.store.Delete(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to delete stale room")
		}
		return nil, true, nil
	}

	err = c.store.Update(ctx, roomID, map[string]any{
		"player2":      models.NewParticipant(self),
		"status":       models.StatusReady,
		"lastActivity": c.clock.Now().UnixMilli(),
	})
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("join room %s: %w", roomID, err)
	}

	// Last-write-wins: a concurrent third client may have overwritten
	// player2 after us. The confirmatory read decides who really joined.
	confirmed, err := c.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("confirm join of room %s: %w", roomID, err)
	}
	if confirmed.Player2 == nil || confirmed.Player2.UID != self.UID {
		log.Info().
			Str("room_id", roomID).
			Str("uid", self.UID).
			Msg("join race lost, restarting matchmaking")
		return nil, true, nil
	}

	log.Info().
		Str("room_id", roomID).
		Str("uid", self.UID).
		Msg("joined room as player2")
	return &Result{RoomID: roomID, Role: models.RolePlayer2}, false, nil
}

func (c *Coordinator) create(ctx context.Context, self models.Identity) (*Result, bool, error) {
	now := c.clock.Now().UnixMilli()
	room := &models.Room{
		Status:       models.StatusWaiting,
		Topic:        c.pickTopic(),
		Player1:      models.NewParticipant(self),
		Votes:        models.Votes{},
		CreatedAt:    now,
		LastActivity: now,
	}
	id, err := c.store.Create(ctx, room)
	if err != nil {
		return nil, false, fmt.Errorf("create room: %w", err)
	}

	log.Info().
		Str("room_id", id).
		Str("uid", self.UID).
		Str("topic", room.Topic.Label).
		Msg("created room, waiting for opponent")
	return &Result{RoomID: id, Role: models.RolePlayer1, Waiting: true}, false, nil
}

// Cancel backs out of matchmaking. An unmatched waiting room is
// deleted; if a partner joined concurrently the room now belongs to the
// match, so we only clear our searching flag.
func (c *Coordinator) Cancel(ctx context.Context, roomID string, role models.Role) error {
	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("cancel matchmaking: %w", err)
	}

	if room.Status == models.StatusWaiting && !room.Matched() {
		if err := c.store.Delete(ctx, roomID); err != nil {
			return fmt.Errorf("delete cancelled room: %w", err)
		}
		return nil
	}

	err = c.store.Update(ctx, roomID, map[string]any{
		roomstore.SearchingField(role): false,
	})
	if err != nil && !errors.Is(err, roomstore.ErrNotFound) {
		return fmt.Errorf("clear searching flag: %w", err)
	}
	return nil
}

// joinable re-checks the candidate predicates on a fresh read,
// including the recency window the original query filtered on.
func (c *Coordinator) joinable(room *models.Room) bool {
	return room.Status == models.StatusWaiting &&
		room.CreatedAt > c.clock.Now().UnixMilli()-c.window.Milliseconds() &&
		room.Player1 != nil &&
		room.Player1.Online &&
		room.Player1.IsSearching
}
