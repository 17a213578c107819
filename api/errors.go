package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"remindflow/account"
	"remindflow/auth"
	"remindflow/consent"
	"remindflow/deadline"
	"remindflow/outbox"
	"remindflow/proof"
	"remindflow/reminder"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

type errorMapping struct {
	target error
	status int
}

var domainErrors = []errorMapping{
	{account.ErrEntityNotFound, fiber.StatusNotFound},
	{account.ErrContactNotFound, fiber.StatusNotFound},
	{consent.ErrContactNotFound, fiber.StatusNotFound},
	{deadline.ErrDeadlineNotFound, fiber.StatusNotFound},
	{reminder.ErrReminderNotFound, fiber.StatusNotFound},
	{outbox.ErrMessageNotFound, fiber.StatusNotFound},
	{consent.ErrInvalidInput, fiber.StatusBadRequest},
	{deadline.ErrInvalidInput, fiber.StatusBadRequest},
	{reminder.ErrInvalidInput, fiber.StatusBadRequest},
	{outbox.ErrInvalidInput, fiber.StatusBadRequest},
	{account.ErrInvalidCadence, fiber.StatusUnprocessableEntity},
	{outbox.ErrInvalidParams, fiber.StatusUnprocessableEntity},
	{outbox.ErrUnknownTemplate, fiber.StatusUnprocessableEntity},
	{outbox.ErrInvalidReceipt, fiber.StatusUnprocessableEntity},
	{proof.ErrEmptyDocument, fiber.StatusUnprocessableEntity},
	{deadline.ErrEntityInactive, fiber.StatusConflict},
	{reminder.ErrNotFailed, fiber.StatusConflict},
	{auth.ErrInvalidToken, fiber.StatusUnauthorized},
}

// ErrorHandler renders every error as an ErrorResponse. Unmapped errors are logged and hidden behind a 500.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		} else if s, ok := statusFor(err); ok {
			status = s
			message = err.Error()
		}

		traceID := uuid.New().String()[:8]
		if status >= fiber.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"trace_id": traceID,
				"method":   c.Method(),
				"path":     c.Path(),
			}).Error("request failed")
		}

		return c.Status(status).JSON(ErrorResponse{
			Code:    codeFor(status),
			Message: message,
			TraceID: traceID,
		})
	}
}

func statusFor(err error) (int, bool) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.status, true
		}
	}
	return 0, false
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func badRequest(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusBadRequest, message)
}

func unauthorized(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusUnauthorized, message)
}

func forbidden(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusForbidden, message)
}
