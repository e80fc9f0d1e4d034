// Package httpapi wires Fiber routes to the daemon's internal
// components, following the teacher's bare-handler-function style but
// with the auth middleware generalized into a real app.Use(...) chain
// (grounded in original_source's auth/middleware.rs).
package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const vendorAccept = "Application/vnd.pkglatv1+json"

// AuthMiddleware validates Authorization: Bearer lightd_<token> and the
// required Accept header on every protected route.
func AuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Accept") != vendorAccept {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "missing vendor Accept header"})
		}

		auth := c.Get("Authorization")
		const prefix = "Bearer lightd_"
		if !strings.HasPrefix(auth, prefix) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or malformed bearer token"})
		}
		if !TokenValid(expectedToken, strings.TrimPrefix(auth, prefix)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		return c.Next()
	}
}

// TokenValid compares a bare token (without the "lightd_" prefix)
// against the expected value. Shared with the WebSocket gateway, which
// authenticates via a ?token= query parameter instead of a header.
func TokenValid(expected, provided string) bool {
	return expected != "" && provided == expected
}
