package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"formbridge/internal/instrument"
	"formbridge/internal/store"
)

// DeliveryResponse is the envelope returned to form builders.
type DeliveryResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type DeliveryResult struct {
	Message string `json:"message"`
	PostID  string `json:"post_id,omitempty"`
}

// WebhookHandler receives form submissions for configured webhooks.
type WebhookHandler struct {
	configs   ConfigStore
	processor *Processor
	metrics   *instrument.Metrics
}

func NewWebhookHandler(configs ConfigStore, processor *Processor, metrics *instrument.Metrics) *WebhookHandler {
	return &WebhookHandler{configs: configs, processor: processor, metrics: metrics}
}

// Receive handles deliveries addressed as /?webhook_id=<id>. Requests without
// the parameter fall through to the next route.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	id := c.Query("webhook_id")
	if id == "" {
		return c.Next()
	}
	return h.deliver(c, id)
}

// ReceiveByPath handles deliveries addressed as /hooks/<id>.
func (h *WebhookHandler) ReceiveByPath(c *fiber.Ctx) error {
	return h.deliver(c, c.Params("id"))
}

func (h *WebhookHandler) deliver(c *fiber.Ctx, id string) error {
	start := time.Now()
	ctx := c.UserContext()

	cfg, err := h.configs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.reject(c, ErrWebhookNotFound, instrument.OutcomeNotFound, start)
		}
		return h.reject(c, fmt.Errorf("load webhook %s: %w", id, err), instrument.OutcomeFailed, start)
	}

	if c.Method() != fiber.MethodPost {
		h.metrics.ObserveDelivery(instrument.OutcomeIgnored, time.Since(start))
		return c.SendStatus(fiber.StatusNoContent)
	}

	res, err := h.processor.Process(ctx, cfg, c.Body(), formFields(c))
	if err != nil {
		outcome := instrument.OutcomeFailed
		if errors.Is(err, ErrEmptyPayload) {
			outcome = instrument.OutcomeRejected
		}
		return h.reject(c, err, outcome, start)
	}

	if res.Skipped {
		h.metrics.ObserveDelivery(instrument.OutcomeSkipped, time.Since(start))
		return c.JSON(DeliveryResponse{Success: true, Data: DeliveryResult{Message: "Submission skipped by filter"}})
	}

	h.metrics.ObserveDelivery(instrument.OutcomeCreated, time.Since(start))
	return c.JSON(DeliveryResponse{
		Success: true,
		Data:    DeliveryResult{Message: "Record created successfully", PostID: res.RecordID},
	})
}

func (h *WebhookHandler) reject(c *fiber.Ctx, err error, outcome string, start time.Time) error {
	status, msg := deliveryFailure(err)
	event := zerolog.Ctx(c.UserContext()).Warn()
	if status >= fiber.StatusInternalServerError {
		event = zerolog.Ctx(c.UserContext()).Error()
	}
	event.Err(err).Int("status", status).Msg("webhook delivery rejected")

	h.metrics.ObserveDelivery(outcome, time.Since(start))
	return c.Status(status).JSON(DeliveryResponse{Success: false, Data: msg})
}

// formFields collects conventional form-POST fields from urlencoded or
// multipart bodies.
func formFields(c *fiber.Ctx) url.Values {
	form := url.Values{}
	ct := strings.ToLower(string(c.Request().Header.ContentType()))

	switch {
	case strings.HasPrefix(ct, fiber.MIMEApplicationForm):
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			form.Add(string(k), string(v))
		})
	case strings.HasPrefix(ct, fiber.MIMEMultipartForm):
		if mf, err := c.MultipartForm(); err == nil {
			for k, vs := range mf.Value {
				form[k] = vs
			}
		}
	}
	return form
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
