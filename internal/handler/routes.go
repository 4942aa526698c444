package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/fanout"
	"github.com/makeasinger/genreswap/internal/model"
)

// Routes is everything Mount needs. Nil middleware is skipped.
type Routes struct {
	Jobs   *JobHandler
	Health *HealthHandler
	Auth   *AuthHandler
	Hub    *fanout.Hub
	// Snapshot serves the first frames of a push subscription
	Snapshot func(ctx context.Context, jobID string) ([]model.JobView, error)

	APIAuth     fiber.Handler
	SubmitLimit fiber.Handler

	// MediaDir is served under MediaPath (published results), WorkDir
	// under /work (job workspaces, reachable by remote backends).
	MediaPath string
	MediaDir  string
	WorkDir   string
}

func Mount(app *fiber.App, r Routes) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "genreswap"})
	})
	if r.Health != nil {
		app.Get("/health", r.Health.Health)
	}
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}
	if r.MediaDir != "" {
		app.Static(r.MediaPath, r.MediaDir)
	}
	if r.WorkDir != "" {
		app.Static("/work", r.WorkDir)
	}

	api := app.Group("/api")
	if r.APIAuth != nil {
		api.Use(r.APIAuth)
	}
	api.Get("/genres", r.Jobs.Genres)
	api.Get("/jobs", r.Jobs.List)
	api.Get("/jobs/:jobId", r.Jobs.Status)
	if r.SubmitLimit != nil {
		api.Post("/jobs", r.SubmitLimit, r.Jobs.Submit)
	} else {
		api.Post("/jobs", r.Jobs.Submit)
	}

	if r.Hub == nil {
		return
	}
	// push channels carry the same job views as /api and sit behind the
	// same auth
	ws := app.Group("/ws")
	if r.APIAuth != nil {
		ws.Use(r.APIAuth)
	}
	ws.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	subscribe := func(c *websocket.Conn, jobID string) {
		r.Hub.HandleConnection(c, jobID, func() ([]model.JobView, error) {
			return r.Snapshot(context.Background(), jobID)
		})
	}
	ws.Get("/jobs", websocket.New(func(c *websocket.Conn) {
		subscribe(c, fanout.AllJobs)
	}))
	ws.Get("/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		subscribe(c, c.Params("jobId"))
	}))
}
