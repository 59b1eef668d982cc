package attachments

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// Blobs persists attachment content under an id chosen by the caller.
type Blobs interface {
	PutAttachment(ctx context.Context, id string, file models.Attachment) error
}

// FieldConfig holds the message field's upload settings.
type FieldConfig struct {
	Enabled bool
	// MaxBytes limits the decoded size of a single file. Zero means no limit.
	MaxBytes int64
	// AllowedTypes restricts MIME types. Entries may be "type/*". Empty
	// allows everything.
	AllowedTypes []string
}

// UploadError is a file rejected by the field's settings or storage.
type UploadError struct {
	Reason string
}

func (e *UploadError) Error() string { return e.Reason }

// MessageField is the Field of the ticket message, backed by Blobs.
type MessageField struct {
	cfg   FieldConfig
	blobs Blobs
}

// NewMessageField returns a Field storing accepted files in blobs.
func NewMessageField(cfg FieldConfig, blobs Blobs) *MessageField {
	return &MessageField{cfg: cfg, blobs: blobs}
}

func (m *MessageField) AttachmentsEnabled() bool {
	return m.cfg.Enabled
}

func (m *MessageField) UploadAttachment(ctx context.Context, file models.Attachment) (string, error) {
	if len(file.Data) == 0 {
		return "", &UploadError{Reason: "File is empty"}
	}
	if m.cfg.MaxBytes > 0 && int64(len(file.Data)) > m.cfg.MaxBytes {
		return "", &UploadError{Reason: "File is too large"}
	}
	if !m.typeAllowed(file.Type) {
		return "", &UploadError{Reason: "File type is not allowed"}
	}
	if m.blobs == nil {
		return "", &UploadError{Reason: "Unable to save file"}
	}

	id := uuid.New().String()
	if err := m.blobs.PutAttachment(ctx, id, file); err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			return "", ue
		}
		return "", &UploadError{Reason: fmt.Sprintf("Unable to save file: %v", err)}
	}
	return id, nil
}

func (m *MessageField) typeAllowed(contentType string) bool {
	if len(m.cfg.AllowedTypes) == 0 {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, allowed := range m.cfg.AllowedTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == mt {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return true
		}
	}
	return false
}
