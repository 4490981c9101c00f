package gateway

import (
	"encoding/json"

	"github.com/kritsadaz/sketchduel/go/internal/client"
	"github.com/kritsadaz/sketchduel/go/internal/models"
)

// ClientMessage is what the browser sends over the socket.
type ClientMessage struct {
	Type string `json:"type"`
	// Frame carries the opaque image blob for "frame" messages.
	Frame string `json:"frame,omitempty"`
	// Target names the voted side for "vote" messages.
	Target models.Role `json:"target,omitempty"`
}

const (
	// MsgPlay starts matchmaking for this connection.
	MsgPlay = "play"
	// MsgFrame publishes the latest rendered frame.
	MsgFrame = "frame"
	// MsgVote casts the participant's vote.
	MsgVote = "vote"
	// MsgCancel backs out of matchmaking.
	MsgCancel = "cancel"
)

// ServerMessage is what the gateway pushes to the browser.
type ServerMessage struct {
	Type string `json:"type"`
	// Phase and Room accompany "phase" messages.
	Phase client.Phase `json:"phase,omitempty"`
	Room  *models.Room `json:"room,omitempty"`
	// Frame carries the peer's latest blob for "peer_frame" messages.
	Frame string `json:"frame,omitempty"`
	// Error carries a user-facing failure for "error" messages.
	Error string `json:"error,omitempty"`
}

const (
	MsgPhase     = "phase"
	MsgPeerFrame = "peer_frame"
	MsgError     = "error"
)

func encode(msg ServerMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}
