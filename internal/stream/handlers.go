package stream

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"backend-pawwalk/internal/auth"
	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/tracking"
)

const reasonBadRequest tracking.Reason = "bad_request"

// Authenticator resolves a handshake token to a user id.
type Authenticator func(token string) (string, error)

func RegisterRoutes(r fiber.Router, hub *Hub, authenticate Authenticator) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = auth.BearerFromHeader(c.Get("Authorization"))
		}
		userID, err := authenticate(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals("user_id", userID)
		return c.Next()
	})

	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("user_id").(string)
		conn := newWSConn(c)
		go conn.writeLoop()

		// The upgraded connection runs outside fiber's recover middleware.
		defer func() {
			if r := recover(); r != nil {
				logging.Error().Interface("panic", r).Str("user_id", userID).Str("conn_id", conn.ID()).Msg("stream handler panicked")
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		hub.RegisterUserEndpoint(userID, conn)
		defer hub.OnDisconnect(conn)
		logging.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("stream connected")

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			var msg clientMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				_ = conn.Send(encodeError("", reasonBadRequest, "malformed message"))
				continue
			}
			switch msg.Action {
			case "subscribe":
				if err := hub.Subscribe(ctx, conn, msg.WalkID, userID); err != nil {
					logging.Debug().Err(err).Str("user_id", userID).Str("walk_id", msg.WalkID).Msg("subscribe refused")
				}
			case "unsubscribe":
				hub.Unsubscribe(conn, msg.WalkID)
			default:
				_ = conn.Send(encodeError(msg.WalkID, reasonBadRequest, "unknown action"))
			}
		}

		_ = conn.Close()
		<-conn.done
		logging.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("stream disconnected")
	}))
}
