package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/ticket-sync/internal/api/http/handlers"
	"github.com/opsdesk/ticket-sync/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	Inbound        *handlers.InboundHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	app.Post("/inbound/email", cfg.Inbound.IngestEmail)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/status", cfg.Tickets.GetStatus)
	tickets.Post("/:id/retry", cfg.Tickets.RetryTicket)

	staff := app.Group("/staff", cfg.AuthMiddleware.Handle, auth.RequireStaff())
	staff.Patch("/tickets/:id", cfg.StaffTickets.UpdateTicket)
	staff.Post("/tickets/:id/refresh", cfg.StaffTickets.RefreshTicket)
	staff.Get("/groups", cfg.StaffTickets.ListGroups)
}
