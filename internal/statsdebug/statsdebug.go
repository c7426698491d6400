// Package statsdebug implements the optional operator-visibility endpoint
// of SPEC_FULL §6: GET /debug/cake/:wan returning the full per-tier CAKE
// parse, the same depth galpt-cake-stats's own HTTP surface gives
// operators, without requiring a second standalone process. It is
// deliberately a separate server (and a separate web framework, fiber
// rather than gin) from internal/statusweb's read-only control-loop status
// API: this is debug/diagnostic tooling for whoever is holding a router
// client, not part of either control loop's state. Grounded in
// galpt-cake-stats's pkg/server.Server (fiber.New + recover middleware,
// one handler per route, no templates).
package statsdebug

import (
	"context"

	fiber "github.com/gofiber/fiber/v3"
	recovermiddleware "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/config"
)

// QueueResolver maps a WAN name to the router queue name whose stats
// should be read for it. Binaries wire this from their loaded config.
type QueueResolver func(wan string) (queueName string, ok bool)

// Server is the fiber app serving the debug surface.
type Server struct {
	app      *fiber.App
	reader   *cakestats.Reader
	resolve  QueueResolver
}

// New builds a Server reading through reader, resolving WAN path segments
// to queue names via resolve.
func New(reader *cakestats.Reader, resolve QueueResolver) *Server {
	s := &Server{reader: reader, resolve: resolve}

	app := fiber.New(fiber.Config{ServerHeader: "cake-autorate-ctl-debug"})
	app.Use(recovermiddleware.New())
	app.Get("/debug/cake/:wan", s.handleCakeStats)

	s.app = app
	return s
}

// Listen blocks serving on addr until the process exits or an error
// occurs.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server; callers typically invoke this from
// a goroutine watching ctx.Done().
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleCakeStats(c fiber.Ctx) error {
	wan := c.Params("wan")
	if err := config.ValidateIdentifier(wan); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid wan identifier")
	}

	queueName, ok := s.resolve(wan)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown wan")
	}

	deltas, err := s.reader.Read(c.RequestCtx(), queueName)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "cake stats read failed: "+err.Error())
	}
	if deltas == nil {
		return fiber.NewError(fiber.StatusBadGateway, "cake stats unavailable")
	}

	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.JSON(deltas.Raw)
}
