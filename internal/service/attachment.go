package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/owesh74/Guftagu/internal/model"
)

// MaxAttachmentSize is the hard ceiling for uploaded files. Enforced here and
// pre-flight on the client, before any bytes hit the network.
const MaxAttachmentSize = 30 * 1024 * 1024

var ErrAttachmentTooLarge = errors.New("file is too large, max 30MB")

// AttachmentService stores uploaded files on disk and hands back a stable URL.
// The relay never forwards raw binary: publishing an attachment message
// requires the upload to have completed first.
type AttachmentService struct {
	dir     string
	baseURL string
}

func NewAttachmentService(dir, baseURL string) (*AttachmentService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &AttachmentService{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Store persists the payload under a random name and returns the attachment
// descriptor. The original filename is kept only for display.
func (s *AttachmentService) Store(displayName string, data []byte) (model.Attachment, error) {
	if len(data) > MaxAttachmentSize {
		return model.Attachment{}, ErrAttachmentTooLarge
	}

	detected := mimetype.Detect(data)
	kind := model.KindOther
	if strings.HasPrefix(detected.String(), "image/") {
		kind = model.KindImage
	}

	ext := filepath.Ext(displayName)
	if ext == "" {
		ext = detected.Extension()
	}
	stored := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o644); err != nil {
		return model.Attachment{}, fmt.Errorf("write attachment: %w", err)
	}

	if displayName == "" {
		displayName = stored
	}
	return model.Attachment{
		URL:  s.baseURL + "/uploads/" + stored,
		Name: displayName,
		Kind: kind,
	}, nil
}
