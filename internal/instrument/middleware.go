package instrument

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Middleware generates (or propagates) a trace ID, attaches a request-scoped
// logger to the user context, and logs each request when it completes.
func Middleware(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		reqLogger := logger.With().Str("trace_id", traceID).Logger()
		ctx := WithTraceID(c.UserContext(), traceID)
		ctx = reqLogger.WithContext(ctx)
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		// render errors here so the logged status is the one the client sees
		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		event := reqLogger.Info()
		if status >= fiber.StatusInternalServerError {
			event = reqLogger.Error().Err(err)
		}

		// set downstream by the auth middleware
		if userID := GetUserID(c.UserContext()); userID != "" {
			event = event.Str("user_id", userID)
		}

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")

		return nil
	}
}
