package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/auth"
)

// AuthHandler answers forward-auth checks from an API gateway
type AuthHandler struct {
	verifier auth.Verifier
}

func NewAuthHandler(verifier auth.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify. It returns 200 with X-User-* headers
// for a valid bearer token and 401 otherwise.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.verifier.Verify(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	return c.SendStatus(fiber.StatusOK)
}
