package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/stage"
)

// HealthHandler reports which backends each stage will try, in order.
type HealthHandler struct {
	backends map[stage.Name][]string
	info     fiber.Map
}

func NewHealthHandler(backends map[stage.Name][]string, info fiber.Map) *HealthHandler {
	return &HealthHandler{backends: backends, info: info}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	stages := fiber.Map{}
	for name, list := range h.backends {
		if list == nil {
			list = []string{}
		}
		stages[string(name)] = list
	}
	body := fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"backends":  stages,
	}
	for k, v := range h.info {
		body[k] = v
	}
	return c.JSON(body)
}
