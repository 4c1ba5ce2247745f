package engine

import (
	"errors"
	"fmt"
	"mime"

	"github.com/gofiber/fiber/v2"

	"formbridge/internal/storage"
	"formbridge/internal/store"
)

// MediaHandler serves imported attachments.
type MediaHandler struct {
	attachments AttachmentReader
	storage     storage.FileStorage
}

func NewMediaHandler(attachments AttachmentReader, fs storage.FileStorage) *MediaHandler {
	return &MediaHandler{attachments: attachments, storage: fs}
}

// Serve handles GET /media/:id.
func (h *MediaHandler) Serve(c *fiber.Ctx) error {
	id := c.Params("id")

	att, err := h.attachments.GetAttachment(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return respondError(c, NewAppError("NOT_FOUND", 404, fmt.Sprintf("Attachment %s not found", id)))
	}
	if err != nil {
		return fmt.Errorf("get attachment: %w", err)
	}

	reader, err := h.storage.Open(c.UserContext(), att.StoragePath)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}

	c.Set("Content-Type", att.MimeType)
	c.Set("Content-Disposition", contentDisposition(att.Filename))

	// fasthttp closes the stream once the body has been written
	if att.Size > 0 {
		return c.SendStream(reader, int(att.Size))
	}
	return c.SendStream(reader)
}

// contentDisposition quotes the filename, or omits it when it cannot be
// encoded as a header parameter.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("inline", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "inline"
}

// List handles GET /api/_admin/attachments.
func (h *MediaHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	atts, err := h.attachments.ListAttachments(c.UserContext(), limit)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}

	data := make([]fiber.Map, 0, len(atts))
	for _, a := range atts {
		data = append(data, fiber.Map{
			"id":         a.ID,
			"owner_id":   a.OwnerID,
			"source_url": a.SourceURL,
			"filename":   a.Filename,
			"mime_type":  a.MimeType,
			"size":       a.Size,
			"created":    a.Created,
			"url":        "/media/" + a.ID,
		})
	}
	return c.JSON(fiber.Map{"data": data})
}
