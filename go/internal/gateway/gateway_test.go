package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/kritsadaz/sketchduel/go/internal/client"
	"github.com/kritsadaz/sketchduel/go/internal/config"
	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/memstore"
)

func testGatewayConfig() config.Config {
	cfg := config.Default()
	// Liveness thresholds stay out of the way; the scenarios are driven
	// purely by writes.
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func startGateway(t *testing.T, store *memstore.Store) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New(store, clockwork.NewRealClock(), testGatewayConfig(), DefaultConnectionConfig())
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return g, srv
}

func dialBattle(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/battle?uid=" + uid
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", uid, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendPlay(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	if err := ws.WriteJSON(ClientMessage{Type: MsgPlay}); err != nil {
		t.Fatalf("send play: %v", err)
	}
}

func readUntilPhase(t *testing.T, ws *websocket.Conn, want client.Phase) ServerMessage {
	t.Helper()
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg ServerMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for phase %s: %v", want, err)
		}
		if msg.Type == MsgPhase && msg.Phase == want {
			return msg
		}
	}
}

func TestConnectionRequiresUID(t *testing.T) {
	_, srv := startGateway(t, memstore.New())

	resp, err := http.Get(srv.URL + "/ws/battle")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without uid", resp.StatusCode)
	}
}

func TestShutdownWritesOfflineForWaitingConnection(t *testing.T) {
	store := memstore.New()
	g, srv := startGateway(t, store)

	ws := dialBattle(t, srv, "alice")
	sendPlay(t, ws)
	readUntilPhase(t, ws, client.PhaseWaiting)

	rooms, err := store.Query(context.Background(), roomstore.Query{})
	if err != nil || len(rooms) != 1 {
		t.Fatalf("Query = %d rooms, %v; want the one waiting room", len(rooms), err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Shutdown(shutdownCtx)

	room, err := store.Get(context.Background(), rooms[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if room.Player1.Online {
		t.Error("daemon shutdown must mark the participant offline")
	}
	if room.Winner != "" {
		t.Errorf("unmatched room must not record a winner, got %s", room.Winner)
	}
}

func TestShutdownForfeitsLiveMatches(t *testing.T) {
	store := memstore.New()
	g, srv := startGateway(t, store)

	alice := dialBattle(t, srv, "alice")
	sendPlay(t, alice)
	readUntilPhase(t, alice, client.PhaseWaiting)

	bob := dialBattle(t, srv, "bob")
	sendPlay(t, bob)

	msg := readUntilPhase(t, alice, client.PhasePlaying)
	readUntilPhase(t, bob, client.PhasePlaying)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Shutdown(shutdownCtx)

	room, err := store.Get(context.Background(), msg.Room.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if room.Status != models.StatusFinished {
		t.Fatalf("status = %s, want finished after daemon shutdown", room.Status)
	}
	if room.Winner == "" {
		t.Error("live match must end with a recorded winner")
	}
	if room.Player1.Online || room.Player2.Online {
		t.Error("both torn-down sides must be offline")
	}
}
