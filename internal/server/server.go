package server

import (
	"github.com/aaron-iles/ultra-tracker/internal/config"
	"github.com/aaron-iles/ultra-tracker/internal/race"
	"github.com/aaron-iles/ultra-tracker/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Race   *race.Race
	Stream *stream.Hub
}

func NewServer(cfg config.Config, ra *race.Race, hub *stream.Hub) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Race:   ra,
		Stream: hub,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.App.Group("/api")

	// The tracker gateway retries on any non-200, so ingestion always
	// acknowledges; bad payloads are logged and dropped inside the race.
	api.Post("/ping", func(c *fiber.Ctx) error {
		body := append([]byte(nil), c.Body()...)
		s.Race.IngestPing(body)
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/race/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Race.Stats())
	})

	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
