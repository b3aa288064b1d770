package realtime

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var ErrMissingUser = errors.New("user id required")

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UserTopics are the topics a session for userID listens on.
func UserTopics(userID uuid.UUID) []string {
	return []string{
		Topic("notifications", "user_id", userID),
		Topic("messages", "to_user_id", userID),
	}
}

// WSHandler upgrades a request to a WebSocket and streams the caller's change
// events as JSON text frames until either side closes.
type WSHandler struct {
	feed Feed
	log  zerolog.Logger
}

func NewWSHandler(feed Feed, log zerolog.Logger) *WSHandler {
	return &WSHandler{feed: feed, log: log.With().Str("component", "ws").Logger()}
}

// UserFromRequest reads the X-User-ID header, falling back to the user_id query
// parameter for browser clients that cannot set headers on upgrade.
func UserFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	if raw == "" {
		return uuid.Nil, ErrMissingUser
	}
	return uuid.Parse(raw)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := UserFromRequest(r)
	if err != nil {
		http.Error(w, "missing or invalid user id", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := h.feed.Subscribe(UserTopics(userID)...)
	h.log.Debug().Str("user_id", userID.String()).Msg("session opened")

	go h.writePump(ws, sub)
	h.readPump(ws, sub)
}

// readPump only services control frames. Any read error ends the session.
func (h *WSHandler) readPump(ws *gorillawebsocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(ws *gorillawebsocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
