package handler

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/owesh74/Guftagu/internal/service"
)

type UploadHandler struct {
	attachments *service.AttachmentService
	log         zerolog.Logger
}

func NewUploadHandler(attachments *service.AttachmentService, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{attachments: attachments, log: log}
}

// Upload handles POST /api/upload. The file must be fully stored before the
// client may publish the attachment message referencing its URL.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apiError(c, 400, "invalid_input", "file is required")
	}
	if fh.Size > service.MaxAttachmentSize {
		return apiError(c, 413, "attachment_too_large", "File is too large! Max 30MB.")
	}

	f, err := fh.Open()
	if err != nil {
		return apiError(c, 400, "invalid_input", "unreadable file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, service.MaxAttachmentSize+1))
	if err != nil {
		h.log.Error().Err(err).Msg("read upload failed")
		return apiError(c, 500, "internal", "Upload failed.")
	}

	att, err := h.attachments.Store(fh.Filename, data)
	if err != nil {
		if errors.Is(err, service.ErrAttachmentTooLarge) {
			return apiError(c, 413, "attachment_too_large", "File is too large! Max 30MB.")
		}
		h.log.Error().Err(err).Msg("store upload failed")
		return apiError(c, 500, "internal", "Upload failed.")
	}

	h.log.Info().Str("file", att.Name).Str("kind", string(att.Kind)).Msg("attachment stored")
	return c.JSON(fiber.Map{
		"success":  true,
		"fileUrl":  att.URL,
		"fileName": att.Name,
		"fileType": att.Kind,
	})
}
