package engine

import "github.com/gofiber/fiber/v2"

// RegisterWebhookRoutes mounts the public delivery endpoints. Deliveries
// accept any method so non-POST requests can be acknowledged silently.
func RegisterWebhookRoutes(app *fiber.App, h *WebhookHandler) {
	app.All("/", h.Receive)
	app.All("/hooks/:id", h.ReceiveByPath)
}

func RegisterMediaRoutes(app *fiber.App, h *MediaHandler) {
	app.Get("/media/:id", h.Serve)
}
