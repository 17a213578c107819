// Package api exposes the reminder pipeline over HTTP.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"remindflow/auth"
)

// Options configures NewApp.
type Options struct {
	Tokens        TokenVerifier
	ReceiptSecret string
	Log           logrus.FieldLogger
}

// NewApp builds the fiber app with every route registered.
func NewApp(h *Handlers, opts Options) *fiber.App {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if h.Log == nil {
		h.Log = opts.Log
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(opts.Log),
		BodyLimit:             maxProofSize + 1024*1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger(opts.Log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/outbox/receipts", SharedSecret(opts.ReceiptSecret), h.Receipt)

	protected := v1.Group("", AuthRequired(opts.Tokens))

	validID := ValidID("id")
	protected.Post("/entities/:id/deadlines", RequireRole(auth.RoleOperator), validID, h.GenerateDeadlines)
	protected.Post("/deadlines/:id/filed", RequireRole(auth.RoleOperator), validID, h.MarkFiled)
	protected.Post("/deadlines/:id/reminders", RequireRole(auth.RoleWorker), validID, h.ScheduleDeadline)

	protected.Post("/reminders/schedule", RequireRole(auth.RoleWorker), h.ScheduleMany)
	protected.Post("/reminders/drain", RequireRole(auth.RoleWorker), h.Drain)
	protected.Post("/outbox/dispatch", RequireRole(auth.RoleWorker), h.Dispatch)

	contacts := protected.Group("/contacts/:id")
	contacts.Post("/opt-out", RequireRole(auth.RoleOperator), validID, h.OptOut)
	contacts.Post("/opt-in", RequireRole(auth.RoleOperator), validID, h.OptIn)
	contacts.Get("/eligibility", validID, h.Eligibility)

	return app
}

func requestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if c.Path() == "/health" {
			return err
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		log.WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"status": status,
		}).Debug("http request")
		return err
	}
}
