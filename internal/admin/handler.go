package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"formbridge/internal/engine"
	"formbridge/internal/metadata"
	"formbridge/internal/store"
)

type Handler struct {
	configs   engine.ConfigStore
	media     *engine.MediaHandler
	publicURL string
}

func NewHandler(configs engine.ConfigStore, media *engine.MediaHandler, publicURL string) *Handler {
	return &Handler{configs: configs, media: media, publicURL: strings.TrimRight(publicURL, "/")}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/webhooks", h.ListWebhooks)
	admin.Get("/webhooks/:id", h.GetWebhook)
	admin.Post("/webhooks", h.CreateWebhook)
	admin.Delete("/webhooks/:id", h.DeleteWebhook)

	admin.Get("/attachments", h.media.List)
}

// webhookView is a stored config plus the URL form builders should post to.
type webhookView struct {
	*metadata.WebhookConfig
	URL string `json:"url"`
}

func (h *Handler) view(cfg *metadata.WebhookConfig) webhookView {
	return webhookView{WebhookConfig: cfg, URL: h.publicURL + "/?webhook_id=" + cfg.ID}
}

// --- Webhook Endpoints ---

func (h *Handler) ListWebhooks(c *fiber.Ctx) error {
	configs, err := h.configs.List(c.UserContext())
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	data := make([]webhookView, 0, len(configs))
	for _, cfg := range configs {
		data = append(data, h.view(cfg))
	}
	return c.JSON(fiber.Map{"data": data})
}

func (h *Handler) GetWebhook(c *fiber.Ctx) error {
	id := c.Params("id")
	cfg, err := h.configs.Get(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("Webhook", id)
	}
	if err != nil {
		return fmt.Errorf("get webhook %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": h.view(cfg)})
}

func (h *Handler) CreateWebhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	cfg, details := req.config()
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	id, err := h.configs.Create(c.UserContext(), cfg)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	zerolog.Ctx(c.UserContext()).Info().Str("webhook_id", id).Str("name", cfg.Name).Msg("webhook created")
	return c.Status(201).JSON(fiber.Map{"data": h.view(cfg)})
}

func (h *Handler) DeleteWebhook(c *fiber.Ctx) error {
	id := c.Params("id")
	err := h.configs.Delete(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("Webhook", id)
	}
	if err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}

	zerolog.Ctx(c.UserContext()).Info().Str("webhook_id", id).Msg("webhook deleted")
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": id}})
}

// webhookRequest accepts acf_fields and category_mapping either as JSON
// values or in the textual forms an administrator types into a form: one
// field per line, and "value:slug" lines.
type webhookRequest struct {
	Name            string          `json:"name"`
	PostType        string          `json:"post_type"`
	AcfFields       json.RawMessage `json:"acf_fields"`
	TitleField      string          `json:"title_field"`
	CategoryField   string          `json:"category_field"`
	CategoryMapping json.RawMessage `json:"category_mapping"`
	TaxonomyName    string          `json:"taxonomy_name"`
	Filter          string          `json:"filter"`
}

func (r *webhookRequest) config() (*metadata.WebhookConfig, []engine.ErrorDetail) {
	var details []engine.ErrorDetail

	cfg := &metadata.WebhookConfig{
		Name:          r.Name,
		PostType:      r.PostType,
		TitleField:    r.TitleField,
		CategoryField: r.CategoryField,
		TaxonomyName:  r.TaxonomyName,
		Filter:        strings.TrimSpace(r.Filter),
	}

	fields, err := decodeFieldList(r.AcfFields)
	if err != nil {
		details = append(details, engine.ErrorDetail{Field: "acf_fields", Rule: "format", Message: "must be a list of field names or newline-separated text"})
	}
	cfg.AcfFields = fields

	mapping, err := decodeCategoryMapping(r.CategoryMapping)
	if err != nil {
		details = append(details, engine.ErrorDetail{Field: "category_mapping", Rule: "format", Message: `must be an object or "value:slug" lines`})
	}
	if dup := collidingMappingKeys(mapping); len(dup) > 0 {
		details = append(details, engine.ErrorDetail{Field: "category_mapping", Rule: "unique",
			Message: fmt.Sprintf("keys differ only in case or spacing: %s", strings.Join(dup, ", "))})
	}
	cfg.CategoryMapping = mapping

	cfg.Normalize()

	if cfg.Name == "" {
		details = append(details, engine.ErrorDetail{Field: "name", Rule: "required", Message: "name is required"})
	}
	if cfg.PostType == "" {
		details = append(details, engine.ErrorDetail{Field: "post_type", Rule: "required", Message: "post_type is required"})
	}
	if cfg.Filter != "" {
		if _, err := engine.CompileFilter(cfg.Filter); err != nil {
			details = append(details, engine.ErrorDetail{Field: "filter", Rule: "expression", Message: err.Error()})
		}
	}

	return cfg, details
}

// collidingMappingKeys lists, sorted, the keys that normalise to the same
// mapping key as another key.
func collidingMappingKeys(mapping map[string]string) []string {
	groups := make(map[string][]string, len(mapping))
	for k := range mapping {
		key := metadata.MappingKey(k)
		groups[key] = append(groups[key], k)
	}
	var dup []string
	for _, ks := range groups {
		if len(ks) > 1 {
			dup = append(dup, ks...)
		}
	}
	sort.Strings(dup)
	return dup
}

func decodeFieldList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return metadata.ParseFieldList(text), nil
	}
	var fields []string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func decodeCategoryMapping(raw json.RawMessage) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return metadata.ParseCategoryMapping(text), nil
	}
	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}
