// Package voting aggregates the two vote tallies and records the
// winner. Votes are atomic store-side increments so concurrent votes
// from both clients never lose an update; resolution is write-once and
// both clients may attempt it.
package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// ErrAlreadyVoted guards the local single-vote flag. The store does not
// enforce this; a client that restarts mid-voting could vote again.
var ErrAlreadyVoted = errors.New("already voted in this room")

// ErrVotingClosed rejects votes cast outside the voting phase.
var ErrVotingClosed = errors.New("room is not accepting votes")

// PeerChecker derives participant liveness from a snapshot.
type PeerChecker interface {
	PeerOnline(room *models.Room, peer models.Role) bool
}

// Resolver casts votes and computes the outcome.
type Resolver struct {
	store  roomstore.Store
	clock  clockwork.Clock
	peers  PeerChecker
	settle time.Duration
	target int64

	mu    sync.Mutex
	voted map[string]bool
}

// NewResolver creates a resolver. settle is the grace period after a
// local vote for the peer's concurrent vote to land; target is the
// combined tally that completes voting.
func NewResolver(store roomstore.Store, clock clockwork.Clock, peers PeerChecker, settle time.Duration, target int64) *Resolver {
	return &Resolver{
		store:  store,
		clock:  clock,
		peers:  peers,
		settle: settle,
		target: target,
		voted:  make(map[string]bool),
	}
}

// CastVote increments the tally for target once per local session, then
// schedules a resolution pass after the settle delay. Votes are only
// accepted while the room is in the voting phase.
func (r *Resolver) CastVote(ctx context.Context, roomID string, target models.Role) error {
	room, err := r.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	if room.Status != models.StatusVoting {
		return fmt.Errorf("%w: room %s is %s", ErrVotingClosed, roomID, room.Status)
	}

	r.mu.Lock()
	if r.voted[roomID] {
		r.mu.Unlock()
		return ErrAlreadyVoted
	}
	r.voted[roomID] = true
	r.mu.Unlock()

	if err := r.store.IncrementField(ctx, roomID, roomstore.VotesField(target), 1); err != nil {
		r.mu.Lock()
		delete(r.voted, roomID)
		r.mu.Unlock()
		return fmt.Errorf("cast vote: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.settle):
		}
		if _, err := r.Resolve(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("post-vote resolution failed")
		}
	}()
	return nil
}

// HasVoted reports the local single-vote flag for a room.
func (r *Resolver) HasVoted(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.voted[roomID]
}

// Resolve runs one resolution pass. It returns true when the room has a
// recorded winner, either from this pass or an earlier one. A deferring
// pass (not all votes in, no forfeit) returns false with no write.
func (r *Resolver) Resolve(ctx context.Context, roomID string) (bool, error) {
	room, err := r.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve room %s: %w", roomID, err)
	}

	// Another resolver got here first; never write twice.
	if room.Winner != "" {
		return true, nil
	}

	winner, ok := Decide(room,
		r.peers.PeerOnline(room, models.RolePlayer1),
		r.peers.PeerOnline(room, models.RolePlayer2),
		r.target)
	if !ok {
		return false, nil
	}

	err = r.store.Update(ctx, roomID, map[string]any{
		"winner": winner,
		"status": models.StatusFinished,
	})
	if err != nil {
		if errors.Is(err, roomstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("record winner for room %s: %w", roomID, err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("winner", string(winner)).
		Int64("votes_player1", room.Votes.Player1).
		Int64("votes_player2", room.Votes.Player2).
		Msg("room resolved")
	return true, nil
}

// Decide computes the outcome from a snapshot. Forfeits outrank votes;
// with both sides present the tally must reach target before a result
// exists. ok=false defers resolution.
func Decide(room *models.Room, p1Online, p2Online bool, target int64) (models.Winner, bool) {
	switch {
	case !p1Online:
		return models.WinnerPlayer2, true
	case !p2Online:
		return models.WinnerPlayer1, true
	case room.Votes.Total() < target:
		return "", false
	case room.Votes.Player1 > room.Votes.Player2:
		return models.WinnerPlayer1, true
	case room.Votes.Player2 > room.Votes.Player1:
		return models.WinnerPlayer2, true
	default:
		return models.WinnerDraw, true
	}
}
