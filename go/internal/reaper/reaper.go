// Package reaper garbage-collects abandoned rooms. A creator that
// closed the tab without a clean cancel leaves a Waiting room behind;
// past the TTL it must not pollute the matching pool. Finished rooms
// age out the same way since nothing reads them again.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// Reaper deletes rooms older than the TTL regardless of status.
type Reaper struct {
	store roomstore.Store
	clock clockwork.Clock
	ttl   time.Duration
}

// New creates a reaper with the given time-to-live.
func New(store roomstore.Store, clock clockwork.Clock, ttl time.Duration) *Reaper {
	return &Reaper{store: store, clock: clock, ttl: ttl}
}

// Sweep deletes every room past the TTL. Individual delete failures are
// logged and skipped; the next sweep retries them.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.ttl).UnixMilli()
	rooms, err := r.store.Query(ctx, roomstore.Query{CreatedBefore: cutoff})
	if err != nil {
		return fmt.Errorf("query expired rooms: %w", err)
	}

	for _, room := range rooms {
		if err := r.store.Delete(ctx, room.ID); err != nil {
			log.Error().Err(err).Str("room_id", room.ID).Msg("failed to reap room")
			continue
		}
		log.Info().
			Str("room_id", room.ID).
			Str("status", string(room.Status)).
			Int64("age_ms", r.clock.Now().UnixMilli()-room.CreatedAt).
			Msg("reaped expired room")
	}
	return nil
}

// StartPeriodic runs background sweeps on a fixed interval. The caller
// shuts the returned scheduler down with the daemon.
func (r *Reaper) StartPeriodic(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create reaper scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("background sweep failed")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule background sweep: %w", err)
	}

	sched.Start()
	return sched, nil
}
