package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/middleware"
	ws "github.com/sessionscribe/api/internal/websocket"
)

// Routes bundles what SetupRoutes mounts.
type Routes struct {
	Sessions    *SessionHandler
	Notes       *NoteHandler
	RateLimiter *middleware.RateLimiter
	Limits      config.RateLimitConfig
	Hub         *ws.Hub
}

// SetupRoutes mounts the API and websocket routes on app.
func SetupRoutes(app *fiber.App, r Routes) {
	api := app.Group("/api")

	sessions := api.Group("/sessions")
	sessions.Post("/transcribe", r.RateLimiter.SessionLimit(r.Limits.SessionsPerHour), r.Sessions.Transcribe)
	sessions.Post("/start", r.RateLimiter.SessionLimit(r.Limits.SessionsPerHour), r.Sessions.Start)
	sessions.Get("/status/:jobId", r.Sessions.Status)
	sessions.Get("/result/:jobId", r.Sessions.Result)

	api.Get("/clients", r.Notes.ListClients)
	api.Post("/clients", r.Notes.CreateClient)

	notes := api.Group("/notes")
	notes.Get("/", r.Notes.ListNotes)
	notes.Post("/", r.Notes.SaveNote)
	notes.Get("/:id", r.Notes.GetNote)
	notes.Post("/:id/export", r.RateLimiter.ExportLimit(r.Limits.ExportsPerHour), r.Notes.Export)

	if r.Hub == nil {
		return
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/sessions/:jobId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}))
}
