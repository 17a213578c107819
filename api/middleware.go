package api

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"remindflow/auth"
)

const principalKey = "principal"

// ReceiptSecretHeader carries the shared secret on provider receipt callbacks.
const ReceiptSecretHeader = "X-Receipt-Secret"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Principal, error)
}

// AuthRequired rejects requests without a valid bearer token and stores the principal in locals.
func AuthRequired(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return unauthorized("Missing authorization header")
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			return unauthorized("Invalid authorization header format")
		}

		p, err := tokens.VerifyToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return unauthorized("Invalid or expired token")
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// RequireRole allows principals whose role covers role.
func RequireRole(role auth.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := CurrentPrincipal(c)
		if !ok {
			return unauthorized("Not authenticated")
		}
		if !p.Allows(role) {
			return forbidden("Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

// CurrentPrincipal returns the authenticated caller, if any.
func CurrentPrincipal(c *fiber.Ctx) (auth.Principal, bool) {
	p, ok := c.Locals(principalKey).(auth.Principal)
	return p, ok
}

// SharedSecret guards provider webhooks. An empty secret disables the route.
func SharedSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return fiber.NewError(fiber.StatusNotFound, "Receipts are not enabled")
		}
		got := c.Get(ReceiptSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return unauthorized("Invalid receipt secret")
		}
		return c.Next()
	}
}

// ValidID rejects requests whose path parameter is not a UUID before they reach the database.
func ValidID(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := uuid.Validate(c.Params(param)); err != nil {
			return badRequest("Invalid " + param)
		}
		return c.Next()
	}
}
