package middleware

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/auth"
	"github.com/makeasinger/genreswap/pkg/response"
)

const (
	localUserID = "userId"
	localEmail  = "email"
	localName   = "name"
)

// Authenticate requires a bearer token accepted by verifier. Websocket
// upgrades may pass it as the access_token query parameter instead, since
// browsers cannot set headers on the handshake.
func Authenticate(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" && websocket.IsWebSocketUpgrade(c) {
			if q := c.Query("access_token"); q != "" {
				header = "Bearer " + q
			}
		}
		if header == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		id, err := verifier.Verify(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setIdentity(c, id)
		return c.Next()
	}
}

// GatewayAuth trusts the X-User-* headers set by a forward-auth proxy.
func GatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		})
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(localUserID, id.UserID)
	c.Locals(localEmail, id.Email)
	c.Locals(localName, id.Name)
}

// GetUserID returns the authenticated user, or "" when auth is off.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}
