// Package gateway is the surface the excluded rendering and auth layers
// talk to: one WebSocket per browser session, carrying frame blobs in
// and phase/peer-frame signals out. The coordination core itself never
// sees a socket.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/client"
	"github.com/kritsadaz/sketchduel/go/internal/config"
	"github.com/kritsadaz/sketchduel/go/internal/models"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

// ConnectionConfig holds per-socket settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns workable defaults. Frame blobs are
// base64 PNGs, hence the generous message limit.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Gateway upgrades sockets and owns the live connection registry.
type Gateway struct {
	store    roomstore.Store
	clock    clockwork.Clock
	cfg      config.Config
	connCfg  ConnectionConfig
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection
}

// New creates a gateway over the shared room store.
func New(store roomstore.Store, clock clockwork.Clock, cfg config.Config, connCfg ConnectionConfig) *Gateway {
	return &Gateway{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		connCfg: connCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  connCfg.ReadBufferSize,
			WriteBufferSize: connCfg.WriteBufferSize,
			CheckOrigin:     connCfg.CheckOrigin,
		},
		connections: make(map[string]*Connection),
	}
}

// RegisterRoutes mounts the gateway endpoints on mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/battle", g.handleBattleConnection)
	mux.HandleFunc("/ws/stats", g.handleConnectionStats)
}

// handleBattleConnection upgrades the socket and binds a participant
// client to it. Identity comes from the auth layer; here it arrives as
// query parameters the auth proxy injects.
func (g *Gateway) handleBattleConnection(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		http.Error(w, "uid is required", http.StatusBadRequest)
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		email = uid
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := &Connection{
		ID:     uuid.New().String(),
		UserID: uid,
		Conn:   ws,
		Send:   make(chan []byte, 64),
		config: g.connCfg,
	}

	// Each connection gets its own participant client; phase changes
	// and room snapshots flow back over the socket.
	conn.client = client.New(g.store, g.clock, g.cfg, models.Identity{UID: uid, Email: email}, func(ev client.Event) {
		conn.push(encode(ServerMessage{Type: MsgPhase, Phase: ev.Phase, Room: ev.Room}))
	})

	lastFrame := ""
	conn.client.SetRoomObserver(func(room *models.Room) {
		peer := room.ParticipantFor(conn.client.Role().Peer())
		if peer == nil || peer.Drawing == "" || peer.Drawing == lastFrame {
			return
		}
		lastFrame = peer.Drawing
		conn.push(encode(ServerMessage{Type: MsgPeerFrame, Frame: peer.Drawing}))
	})

	// The request context dies with the handler; the socket outlives it.
	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel

	g.register(conn)
	go conn.writePump(ctx)
	go func() {
		conn.readPump(ctx)
		g.unregister(conn)
	}()

	log.Info().
		Str("connection_id", conn.ID).
		Str("uid", uid).
		Msg("battle connection established")
}

func (g *Gateway) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	total := len(g.connections)
	g.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"total_connections":` + strconv.Itoa(total) + `}`))
}

func (g *Gateway) register(conn *Connection) {
	g.mu.Lock()
	g.connections[conn.ID] = conn
	g.mu.Unlock()
}

// Shutdown performs the terminal liveness write for every live
// connection, then tears the sockets down. http.Server.Shutdown never
// touches hijacked connections, so the daemon must call this first or
// active matches would miss their forfeit write.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		if err := conn.client.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("terminal liveness write failed")
		}
		conn.cancel()
		conn.Conn.Close()
	}
	log.Info().Int("connections", len(conns)).Msg("gateway connections closed")
}

func (g *Gateway) unregister(conn *Connection) {
	g.mu.Lock()
	delete(g.connections, conn.ID)
	g.mu.Unlock()
	log.Debug().Str("connection_id", conn.ID).Msg("connection unregistered")
}
