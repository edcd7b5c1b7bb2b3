package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestContext bounds the request's user context by timeout and cancels it
// when shutdown's context ends. fasthttp reports no client disconnects, so an
// abandoned request is only noticed once its deadline passes.
func RequestContext(timeout time.Duration, shutdown func() context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		if shutdown != nil {
			stop := context.AfterFunc(shutdown(), cancel)
			defer stop()
		}

		c.SetUserContext(ctx)
		return c.Next()
	}
}
