package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/client"
	"github.com/kritsadaz/sketchduel/go/internal/models"
)

// Connection bridges one browser socket to one participant client.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	client  *client.Client
	config  ConnectionConfig
	cancel  context.CancelFunc
	playing atomic.Bool
}

// writePump drains Send onto the socket and keeps the connection alive
// with pings. One goroutine per connection owns all writes.
func (c *Connection) writePump(ctx context.Context) {
	ping := time.NewTicker(c.config.PingInterval)
	defer func() {
		ping.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed, closing connection")
				return
			}
		case <-ping.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump dispatches inbound messages until the socket closes, then
// performs the abrupt-exit forfeit if a match was live.
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.cancel()
		// Socket gone without a clean exit: final liveness write, which
		// forfeits the match if one is still active.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.client.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("shutdown write failed")
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected socket close")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Connection) handleMessage(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case MsgPlay:
		if !c.playing.CompareAndSwap(false, true) {
			c.sendError("already in matchmaking")
			return
		}
		go func() {
			defer c.playing.Store(false)
			if err := c.client.Play(ctx); err != nil {
				log.Info().Err(err).Str("user_id", c.UserID).Msg("matchmaking failed")
				c.sendError("matchmaking failed, please try again")
			}
		}()

	case MsgFrame:
		if err := c.client.PublishFrame(ctx, msg.Frame); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("frame publish failed")
		}

	case MsgVote:
		if msg.Target != models.RolePlayer1 && msg.Target != models.RolePlayer2 {
			c.sendError("invalid vote target")
			return
		}
		if err := c.client.CastVote(ctx, msg.Target); err != nil {
			c.sendError(err.Error())
		}

	case MsgCancel:
		if err := c.client.CancelSearch(ctx); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("cancel failed")
		}

	default:
		c.sendError("unknown message type")
	}
}

// push queues a message, dropping it if the client cannot keep up.
func (c *Connection) push(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Debug().Str("connection_id", c.ID).Msg("send buffer full, dropping message")
	}
}

func (c *Connection) sendError(text string) {
	c.push(encode(ServerMessage{Type: MsgError, Error: text}))
}
