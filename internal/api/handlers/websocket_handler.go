// server/internal/api/handlers/websocket_handler.go
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/socket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Thời gian chờ tối đa cho một tin nhắn từ client.
const pongWait = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	Hub    *socket.Hub
	Tokens *auth.Tokens
	Log    *slog.Logger
}

// ServeWs xử lý các yêu cầu kết nối WebSocket. Browsers cannot set headers on
// a WebSocket handshake, so the token comes in the query string.
func (h *WebSocketHandler) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is required"})
		return
	}

	session, err := h.Tokens.Verify(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	userID := session.UserID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("failed to upgrade connection", "err", err)
		return
	}

	h.Hub.Register(userID, conn)

	defer func() {
		h.Hub.Unregister(userID, conn)
		conn.Close()
	}()

	// Heartbeat: mỗi PING từ client gia hạn deadline; gorilla tự trả PONG.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	// Vòng lặp đọc: chỉ để phát hiện client ngắt kết nối
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.Log.Warn("unexpected websocket close", "user", userID, "err", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
