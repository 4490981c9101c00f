package models

// Status is the lifecycle phase of a Room. Ordering is strict and
// forward-only: no defined transition ever moves it backward.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusReady    Status = "ready"
	StatusPlaying  Status = "playing"
	StatusVoting   Status = "voting"
	StatusFinished Status = "finished"
)

var statusRank = map[Status]int{
	StatusWaiting:  0,
	StatusReady:    1,
	StatusPlaying:  2,
	StatusVoting:   3,
	StatusFinished: 4,
}

// Valid reports whether s is one of the defined phases.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s precedes other in the lifecycle ordering.
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

// Winner identifies the outcome of a finished Room.
type Winner string

const (
	WinnerPlayer1 Winner = "player1"
	WinnerPlayer2 Winner = "player2"
	WinnerDraw    Winner = "draw"
)

// Role names one side of a Room.
type Role string

const (
	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"
)

// Peer returns the other side.
func (r Role) Peer() Role {
	if r == RolePlayer1 {
		return RolePlayer2
	}
	return RolePlayer1
}

// Winner converts the role to its Winner value.
func (r Role) Winner() Winner {
	if r == RolePlayer1 {
		return WinnerPlayer1
	}
	return WinnerPlayer2
}

// Votes holds the running tally for each side.
type Votes struct {
	Player1 int64 `json:"player1"`
	Player2 int64 `json:"player2"`
}

// Total returns the combined vote count.
func (v Votes) Total() int64 {
	return v.Player1 + v.Player2
}

// Room is the shared document for one match. Both clients mutate it
// field-by-field through the room store; it is the only shared state.
type Room struct {
	ID           string       `json:"id,omitempty"`
	Status       Status       `json:"status"`
	Topic        Topic        `json:"topic"`
	Player1      *Participant `json:"player1,omitempty"`
	Player2      *Participant `json:"player2,omitempty"`
	Votes        Votes        `json:"votes"`
	Winner       Winner       `json:"winner,omitempty"`
	CreatedAt    int64        `json:"createdAt"`
	LastActivity int64        `json:"lastActivity"`
	StartTime    int64        `json:"startTime,omitempty"`
	EndTime      int64        `json:"endTime,omitempty"`
}

// ParticipantFor returns the participant for the given role, or nil.
func (r *Room) ParticipantFor(role Role) *Participant {
	if role == RolePlayer1 {
		return r.Player1
	}
	return r.Player2
}

// RoleOf returns the role whose participant carries the given user ID.
func (r *Room) RoleOf(userID string) (Role, bool) {
	if r.Player1 != nil && r.Player1.UID == userID {
		return RolePlayer1, true
	}
	if r.Player2 != nil && r.Player2.UID == userID {
		return RolePlayer2, true
	}
	return "", false
}

// Matched reports whether a second player has joined.
func (r *Room) Matched() bool {
	return r.Player2 != nil
}
