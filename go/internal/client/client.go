// Package client ties the coordination pieces together for one
// participant: matchmaking, the lifecycle runner, liveness heartbeats,
// and vote resolution. The rendering pipeline and auth layer sit
// outside; they hand us an identity and opaque frame blobs and consume
// phase signals.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/battle"
	"github.com/kritsadaz/sketchduel/go/internal/config"
	"github.com/kritsadaz/sketchduel/go/internal/liveness"
	"github.com/kritsadaz/sketchduel/go/internal/matchmaking"
	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/reaper"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
	"github.com/kritsadaz/sketchduel/go/internal/voting"
)

// Phase is the client-local view of where the match stands.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseWaiting  Phase = "waiting"
	PhasePlaying  Phase = "playing"
	PhaseVoting   Phase = "voting"
	PhaseFinished Phase = "finished"
	PhaseAborted  Phase = "aborted"
)

// Event is pushed to the consumer on every phase or room change.
type Event struct {
	Phase Phase
	Room  *models.Room
}

// Client runs matches for a single identity.
type Client struct {
	store       roomstore.Store
	clock       clockwork.Clock
	cfg         config.Config
	coordinator *matchmaking.Coordinator
	monitor     *liveness.Monitor
	resolver    *voting.Resolver

	self    models.Identity
	notify  func(Event)
	observe func(*models.Room)

	mu        sync.Mutex
	roomID    string
	role      models.Role
	heartbeat *liveness.Heartbeat
	phase     Phase
	room      *models.Room
}

// New wires a client from the shared store. notify may be nil.
func New(store roomstore.Store, clock clockwork.Clock, cfg config.Config, self models.Identity, notify func(Event)) *Client {
	sweep := reaper.New(store, clock, cfg.RoomTTL)
	monitor := liveness.NewMonitor(store, clock, cfg.HeartbeatInterval, cfg.HeartbeatMisses)
	if notify == nil {
		notify = func(Event) {}
	}
	return &Client{
		store:       store,
		clock:       clock,
		cfg:         cfg,
		coordinator: matchmaking.New(store, sweep, clock, cfg.RecencyWindow, cfg.MatchmakingRetries),
		monitor:     monitor,
		resolver:    voting.NewResolver(store, clock, monitor, cfg.SettleDelay, cfg.VoteTarget),
		self:        self,
		notify:      notify,
		phase:       PhaseLobby,
	}
}

// Play runs one full match: find or create a room, keep liveness fresh,
// drive the lifecycle to completion. It returns once the match finishes
// or aborts; matchmaking failures are returned to the caller.
func (c *Client) Play(ctx context.Context) error {
	res, err := c.coordinator.FindOrCreate(ctx, c.self)
	if err != nil {
		return fmt.Errorf("matchmaking: %w", err)
	}

	c.mu.Lock()
	c.roomID = res.RoomID
	c.role = res.Role
	c.heartbeat = c.monitor.Start(ctx, res.RoomID, res.Role, res.Waiting)
	var pending *Event
	if res.Waiting {
		pending = c.setPhaseLocked(PhaseWaiting, nil)
	}
	c.mu.Unlock()
	c.emit(pending)

	defer func() {
		c.mu.Lock()
		hb := c.heartbeat
		c.heartbeat = nil
		c.mu.Unlock()
		if hb != nil {
			hb.Stop()
		}
	}()

	runner := battle.NewRunner(c.store, c.clock, c.monitor, c.cfg.BattleDuration,
		res.RoomID, res.Role, c.onBattleEvent(ctx))
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("battle runner: %w", err)
	}
	return nil
}

// onBattleEvent translates runner events into client phases and keeps
// the heartbeat and resolver in step with the observed lifecycle.
func (c *Client) onBattleEvent(ctx context.Context) func(battle.Event) {
	return func(ev battle.Event) {
		c.mu.Lock()
		var pending *Event
		switch ev.Kind {
		case battle.EventUpdate:
			c.room = ev.Room
			if ev.Room.Matched() && c.heartbeat != nil {
				// In a match now, no longer searching.
				c.heartbeat.SetSearching(false)
			}
			switch ev.Room.Status {
			case models.StatusPlaying:
				pending = c.setPhaseLocked(PhasePlaying, ev.Room)
			case models.StatusWaiting:
				pending = c.setPhaseLocked(PhaseWaiting, ev.Room)
			}
		case battle.EventVoting:
			c.room = ev.Room
			pending = c.setPhaseLocked(PhaseVoting, ev.Room)
		case battle.EventFinished:
			c.room = ev.Room
			pending = c.setPhaseLocked(PhaseFinished, ev.Room)
		case battle.EventAborted:
			c.room = nil
			pending = c.setPhaseLocked(PhaseAborted, nil)
		}
		roomID := c.roomID
		phase := c.phase
		observe := c.observe
		room := c.room
		c.mu.Unlock()
		c.emit(pending)

		if observe != nil && ev.Kind == battle.EventUpdate && room != nil {
			observe(room)
		}

		// During voting, every snapshot may complete the tally (the
		// peer's vote, or a disconnect); resolution is idempotent.
		if phase == PhaseVoting {
			if _, err := c.resolver.Resolve(ctx, roomID); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("resolution pass failed")
			}
		}
	}
}

// setPhaseLocked records a phase change and returns the event to emit
// after the lock is released, so consumer callbacks never run under it.
func (c *Client) setPhaseLocked(p Phase, room *models.Room) *Event {
	if c.phase == p {
		return nil
	}
	c.phase = p
	log.Debug().Str("uid", c.self.UID).Str("phase", string(p)).Msg("client phase changed")
	return &Event{Phase: p, Room: room}
}

func (c *Client) emit(ev *Event) {
	if ev != nil {
		c.notify(*ev)
	}
}

// SetRoomObserver registers a callback for every observed room
// snapshot, in addition to phase-change events. The rendering surface
// uses it to relay the peer's frames. Set before Play.
func (c *Client) SetRoomObserver(fn func(*models.Room)) {
	c.mu.Lock()
	c.observe = fn
	c.mu.Unlock()
}

// CastVote votes for target once. ErrAlreadyVoted guards re-votes in
// this process only; the store does not enforce it.
func (c *Client) CastVote(ctx context.Context, target models.Role) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return errors.New("not in a room")
	}
	return c.resolver.CastVote(ctx, roomID, target)
}

// PublishFrame stores the latest rendered frame blob under our side of
// the document. Called at the rendering pipeline's own cadence; the
// blob is never interpreted here.
func (c *Client) PublishFrame(ctx context.Context, blob string) error {
	c.mu.Lock()
	roomID, role := c.roomID, c.role
	c.mu.Unlock()
	if roomID == "" {
		return errors.New("not in a room")
	}
	err := c.store.Update(ctx, roomID, map[string]any{
		roomstore.DrawingField(role): blob,
	})
	if err != nil && !errors.Is(err, roomstore.ErrNotFound) {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// PeerFrame returns the opponent's latest frame blob, if any.
func (c *Client) PeerFrame() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return ""
	}
	peer := c.room.ParticipantFor(c.role.Peer())
	if peer == nil {
		return ""
	}
	return peer.Drawing
}

// Room returns the latest observed snapshot, or nil before matchmaking.
func (c *Client) Room() *models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Role returns the side this client plays.
func (c *Client) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Phase returns the current local phase.
func (c *Client) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CancelSearch backs out of matchmaking before an opponent joins.
func (c *Client) CancelSearch(ctx context.Context) error {
	c.mu.Lock()
	roomID, role := c.roomID, c.role
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if roomID == "" {
		return nil
	}
	return c.coordinator.Cancel(ctx, roomID, role)
}

// Shutdown performs the abrupt-exit forfeit write. Call it from the
// daemon's terminal signal path.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	roomID, role := c.roomID, c.role
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if roomID == "" {
		return nil
	}
	return c.monitor.Shutdown(ctx, roomID, role)
}
