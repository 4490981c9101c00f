package roomstore

import (
	"encoding/json"
	"fmt"

	"github.com/kritsadaz/sketchduel/go/internal/models"
)

// Field path helpers for the per-role document fields.

// OnlineField is the liveness flag path for a role.
func OnlineField(role models.Role) string { return string(role) + ".online" }

// SearchingField is the matchmaking flag path for a role.
func SearchingField(role models.Role) string { return string(role) + ".isSearching" }

// DrawingField is the frame handle path for a role.
func DrawingField(role models.Role) string { return string(role) + ".drawing" }

// VotesField is the tally path for a role.
func VotesField(role models.Role) string { return "votes." + string(role) }

// LastSeenField is the per-role heartbeat timestamp path.
func LastSeenField(role models.Role) string { return string(role) + ".lastSeen" }

// ApplyFields mutates room in place according to dotted field paths.
// Implementations that hold whole documents (memory, NATS KV) use it to
// realize partial updates; the schema is fixed, so an unknown path is a
// programming error and is rejected.
func ApplyFields(room *models.Room, fields map[string]any) error {
	for path, value := range fields {
		if err := applyField(room, path, value); err != nil {
			return err
		}
	}
	return nil
}

func applyField(room *models.Room, path string, value any) error {
	switch path {
	case "status":
		s, err := asStatus(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		room.Status = s
	case "winner":
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", path, value)
		}
		room.Winner = models.Winner(s)
	case "createdAt", "lastActivity", "startTime", "endTime":
		n, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("field %s: expected integer, got %T", path, value)
		}
		switch path {
		case "createdAt":
			room.CreatedAt = n
		case "lastActivity":
			room.LastActivity = n
		case "startTime":
			room.StartTime = n
		case "endTime":
			room.EndTime = n
		}
	case "player1", "player2":
		p, err := asParticipant(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		if path == "player1" {
			room.Player1 = p
		} else {
			room.Player2 = p
		}
	case "votes.player1":
		n, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("field %s: expected integer, got %T", path, value)
		}
		room.Votes.Player1 = n
	case "votes.player2":
		n, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("field %s: expected integer, got %T", path, value)
		}
		room.Votes.Player2 = n
	default:
		return applyParticipantField(room, path, value)
	}
	return nil
}

func applyParticipantField(room *models.Room, path string, value any) error {
	var p *models.Participant
	var rest string
	switch {
	case len(path) > len("player1.") && path[:len("player1.")] == "player1.":
		p, rest = room.Player1, path[len("player1."):]
	case len(path) > len("player2.") && path[:len("player2.")] == "player2.":
		p, rest = room.Player2, path[len("player2."):]
	default:
		return fmt.Errorf("unknown field path %q", path)
	}
	if p == nil {
		return fmt.Errorf("field %s: participant not present", path)
	}
	switch rest {
	case "online", "isSearching", "ready":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %s: expected bool, got %T", path, value)
		}
		switch rest {
		case "online":
			p.Online = b
		case "isSearching":
			p.IsSearching = b
		case "ready":
			p.Ready = b
		}
	case "drawing":
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", path, value)
		}
		p.Drawing = s
	case "lastSeen":
		n, ok := asInt64(value)
		if !ok {
			return fmt.Errorf("field %s: expected integer, got %T", path, value)
		}
		p.LastSeen = n
	default:
		return fmt.Errorf("unknown field path %q", path)
	}
	return nil
}

func asStatus(value any) (models.Status, error) {
	var s models.Status
	switch v := value.(type) {
	case models.Status:
		s = v
	case string:
		s = models.Status(v)
	default:
		return "", fmt.Errorf("expected status, got %T", value)
	}
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return s, nil
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case models.Winner:
		return string(v), true
	}
	return "", false
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	}
	return 0, false
}

func asParticipant(value any) (*models.Participant, error) {
	switch v := value.(type) {
	case *models.Participant:
		if v == nil {
			return nil, nil
		}
		cp := *v
		return &cp, nil
	case models.Participant:
		cp := v
		return &cp, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected participant, got %T", value)
}
