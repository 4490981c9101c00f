// Package battle runs the room lifecycle for one client: Waiting →
// Ready → Playing → Voting → Finished. Both clients advance the same
// document cooperatively, so every transition is a single guarded,
// idempotent write and the observed snapshot is the only source of
// truth. Local timers merely propose transitions; a late timer simply
// finds the peer already performed the write.
package battle

import (
	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// ActionKind classifies what the state machine wants done next.
type ActionKind int

const (
	// ActionNone means the snapshot requires no write from us.
	ActionNone ActionKind = iota
	// ActionWrite proposes one guarded field write.
	ActionWrite
	// ActionAbort means the room is gone; return to the lobby without
	// further writes.
	ActionAbort
)

// Action is the single proposed effect for an observed snapshot.
type Action struct {
	Kind   ActionKind
	Fields map[string]any
	Reason string
}

// Inputs bundles everything a transition decision may depend on.
// Decisions are derived from the latest snapshot alone, never from a
// diff against a previous one, because the store may coalesce updates.
type Inputs struct {
	Snapshot roomstore.Snapshot
	// Now is the local clock in unix ms, used for startTime/endTime.
	Now int64
	// TimeUp is set when the local countdown has expired.
	TimeUp bool
	// PeerOnline is the derived liveness of the opponent.
	PeerOnline bool
}

// NextAction is the pure transition function. It proposes at most one
// write and is safe to re-run against any snapshot; the guards make
// both clients racing on the same transition converge.
func NextAction(in Inputs) Action {
	if in.Snapshot.Deleted {
		return Action{Kind: ActionAbort, Reason: "room deleted"}
	}
	room := in.Snapshot.Room

	switch room.Status {
	case models.StatusReady:
		// First observer starts the game. Guarded on startTime so the
		// second observer's write never lands.
		if room.StartTime == 0 {
			return Action{
				Kind: ActionWrite,
				Fields: map[string]any{
					"status":    models.StatusPlaying,
					"startTime": in.Now,
				},
				Reason: "start game",
			}
		}
	case models.StatusPlaying:
		if in.TimeUp || !in.PeerOnline {
			reason := "countdown expired"
			if !in.PeerOnline {
				reason = "peer offline"
			}
			if room.EndTime == 0 {
				return Action{
					Kind: ActionWrite,
					Fields: map[string]any{
						"status":  models.StatusVoting,
						"endTime": in.Now,
					},
					Reason: reason,
				}
			}
		}
	}
	return Action{Kind: ActionNone}
}
