// Package attachments decodes and stores the files carried by API requests.
//
// Ingestion is soft-fail: a file that cannot be decoded or stored gets an
// error recorded next to it and the remaining files are still processed.
package attachments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// Field is the message field that owns request attachments. It decides
// whether attachments are accepted at all and stores accepted ones.
type Field interface {
	AttachmentsEnabled() bool
	UploadAttachment(ctx context.Context, file models.Attachment) (string, error)
}

// Observer is told the outcome of every ingested file.
type Observer interface {
	ObserveAttachment(outcome string)
}

// Outcome labels reported to an Observer.
const (
	OutcomeStored       = "stored"
	OutcomeDecodeFailed = "decode_failed"
	OutcomeUploadFailed = "upload_failed"
)

// Ingestor runs the decode/store pass over request attachments.
type Ingestor struct {
	Field    Field
	Log      zerolog.Logger
	Observer Observer
}

// Ingest returns one outcome per input file, in input order. When the field
// disables attachments the result is empty and nothing is recorded.
func (in *Ingestor) Ingest(ctx context.Context, files []models.Attachment) []models.IngestedAttachment {
	if in.Field == nil || !in.Field.AttachmentsEnabled() {
		if len(files) > 0 {
			in.Log.Debug().Int("count", len(files)).Msg("attachments disabled, dropping files")
		}
		return []models.IngestedAttachment{}
	}

	out := make([]models.IngestedAttachment, 0, len(files))
	for _, f := range files {
		out = append(out, in.ingestOne(ctx, f))
	}
	return out
}

func (in *Ingestor) ingestOne(ctx context.Context, f models.Attachment) models.IngestedAttachment {
	item := models.IngestedAttachment{Attachment: f}

	if strings.EqualFold(f.Encoding, "base64") {
		data, err := Decode(f.Data)
		if err != nil {
			item.Data = nil
			item.Error = fmt.Sprintf("%s: Poorly encoded base64 data", f.Name)
			in.Log.Warn().Str("file", f.Name).Err(err).Msg("attachment decode failed")
			in.observe(OutcomeDecodeFailed)
			return item
		}
		item.Data = data
		item.Size = int64(len(data))
	}

	id, err := in.Field.UploadAttachment(ctx, item.Attachment)
	if err != nil {
		item.Error = f.Name + ": " + err.Error()
		in.Log.Warn().Str("file", f.Name).Err(err).Msg("attachment upload failed")
		in.observe(OutcomeUploadFailed)
		return item
	}
	item.ID = id
	in.observe(OutcomeStored)
	return item
}

func (in *Ingestor) observe(outcome string) {
	if in.Observer != nil {
		in.Observer.ObserveAttachment(outcome)
	}
}

// Decode strictly decodes standard base64. Line breaks, as produced by mail
// clients, are ignored. Empty output counts as a failure.
func Decode(data []byte) ([]byte, error) {
	clean := strings.NewReplacer("\r", "", "\n", "").Replace(string(data))
	out, err := base64.StdEncoding.Strict().DecodeString(clean)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("empty payload")
	}
	return out, nil
}
