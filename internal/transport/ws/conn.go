package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moodroom/moodroom/internal/config"
	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler bridges one WebSocket connection to its room actor.
type Handler struct {
	cfg     *config.Config
	manager *hub.Manager
}

// Handle upgrades the request and starts the two pumps. The connection
// identity is assigned here, one per socket; it becomes the player id
// once the client joins.
func (h *Handler) Handle(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("ws upgrade")
		return
	}

	id := domain.PlayerID(uuid.NewString())
	room := h.manager.GetOrCreate(roomID)
	recv := room.Connect(id)

	log.Info().Str("module", "transport.ws").
		Str("room", string(roomID)).
		Str("conn", string(id)).
		Str("token", c.GetString("client_token")).
		Msg("connection opened")

	go h.writePump(conn, room, id, recv)
	go h.readPump(conn, room, id, recv)
}

// readPump forwards inbound frames to the room. Any read error, close
// included, takes the disconnect path exactly once per pump. The pump
// leaves via its own channel generation so it can never tear down a
// replacement connection that reused the identity.
func (h *Handler) readPump(conn *websocket.Conn, room *hub.Room, id domain.PlayerID, recv <-chan []byte) {
	defer func() {
		room.Leave(id, recv)
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("module", "transport.ws").Str("conn", string(id)).Msg("read error")
			}
			return
		}
		room.Forward(id, data)
	}
}

// writePump drains the room's send channel onto the socket and keeps
// the connection alive with protocol-level pings.
func (h *Handler) writePump(conn *websocket.Conn, room *hub.Room, id domain.PlayerID, recv <-chan []byte) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		room.Leave(id, recv)
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-recv:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "transport.ws").Str("conn", string(id)).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
