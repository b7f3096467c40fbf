package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/studyroom-signaling/internal/auth"
	"github.com/mossy-p/studyroom-signaling/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling authenticates the websocket request via the token query
// parameter and hands the upgraded connection to the hub. Room membership
// is negotiated afterwards over join_room frames.
func HandleSignaling(h *hub.Hub, jwtSecret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.FromWebSocketRequest(jwtSecret, c.Request)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade", slog.Any("error", err))
			return
		}

		h.Register(conn, claims.UserID, claims.UserName)
	}
}
