// Package server exposes the scan pipeline over HTTP.
package server

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/sirupsen/logrus"
)

// New prepares the fiber app with every route of h.
func New(h *Handler, allowOrigins []string) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "go-easm"})
	app.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept", ActorHeader},
		AllowOrigins: allowOrigins,
	}))

	// Scans
	app.Post("/scans", h.CreateScanHandler)
	app.Post("/scans/trigger", h.TriggerScanHandler)
	app.Get("/scans/:id", h.GetScanHandler)
	app.Post("/scans/:id/execute", h.ExecuteScanHandler)
	app.Post("/scans/:id/cancel", h.CancelScanHandler)

	// Templates
	app.Post("/templates", h.CreateTemplateHandler)
	app.Get("/templates/:id", h.GetTemplateHandler)

	// Vulnerabilities
	app.Get("/vulnerabilities/:id", h.GetVulnerabilityHandler)
	app.Get("/vulnerabilities/:id/history", h.HistoryHandler)
	app.Post("/vulnerabilities/:id/state", h.ChangeStateHandler)
	app.Post("/vulnerabilities/:id/assign", h.AssignHandler)
	app.Post("/vulnerabilities/:id/accept-risk", h.AcceptRiskHandler)
	app.Post("/vulnerabilities/:id/reopen", h.ReopenHandler)

	// Operations
	app.Get("/health", h.HealthHandler)
	if h.metrics != nil {
		app.Get("/metrics", h.MetricsHandler())
	}
	return app
}

// Start listens on addr until ctx is done, then shuts the app down.
func Start(ctx context.Context, app *fiber.App, addr string) error {
	errc := make(chan error, 1)
	go func() {
		logrus.Infof("Listening on %s", addr)
		errc <- app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logrus.Info("Shutting down HTTP server")
		return app.Shutdown()
	}
}
