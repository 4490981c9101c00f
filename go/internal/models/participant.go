package models

// Participant is one side of a Room. Each participant writes only its
// own fields; the forfeit path is the single sanctioned exception.
type Participant struct {
	// UID is the stable user identifier from the auth layer.
	UID string `json:"uid"`
	// Email is the display label shown to the opponent.
	Email string `json:"email"`
	// Online is the self-reported liveness flag, refreshed by heartbeat.
	Online bool `json:"online"`
	// IsSearching is true only while still in matchmaking. It
	// distinguishes "waiting for a partner" from "already in a match".
	IsSearching bool `json:"isSearching"`
	// LastSeen is the unix-ms time of this participant's most recent
	// heartbeat. Unlike the room-level lastActivity it is authored only
	// by its own side, so the peer can judge staleness from it.
	LastSeen int64 `json:"lastSeen,omitempty"`
	// Drawing is the opaque handle to the latest rendered frame. The
	// core never interprets it.
	Drawing string `json:"drawing,omitempty"`
	// Ready is reserved for future readiness gating.
	Ready bool `json:"ready"`
}

// Identity is the stable (uid, label) pair the auth layer hands us.
type Identity struct {
	UID   string
	Email string
}

// NewParticipant builds a participant record for a player entering
// matchmaking.
func NewParticipant(id Identity) *Participant {
	return &Participant{
		UID:         id.UID,
		Email:       id.Email,
		Online:      true,
		IsSearching: true,
		Ready:       true,
	}
}
