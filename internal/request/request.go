// Package request decodes inbound ticket API bodies (JSON, XML or a raw
// RFC 5322 email) into models.Fields.
package request

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// MaxBodyBytes bounds how much of a request body is read.
const MaxBodyBytes = 32 << 20

// Decode reads body according to format.
func Decode(format models.Format, body io.Reader) (models.Fields, error) {
	raw, err := io.ReadAll(io.LimitReader(body, MaxBodyBytes))
	if err != nil {
		return nil, apierr.Invalid("Unable to read request body")
	}

	switch f, _ := models.ParseFormat(string(format)); f {
	case models.FormatJSON:
		return DecodeJSON(raw)
	case models.FormatXML:
		return DecodeXML(raw)
	case models.FormatEmail:
		return DecodeEmail(raw)
	}
	return nil, apierr.Unsupported("Unsupported data format")
}

// DecodeJSON decodes a JSON object. Numbers are kept as json.Number.
func DecodeJSON(raw []byte) (models.Fields, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return models.Fields{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, apierr.Invalid("Invalid JSON payload: %v", err)
	}
	if out == nil {
		return nil, apierr.Invalid("Invalid JSON payload: expected an object")
	}
	return models.Fields(out), nil
}

func invalid(kind string, err error) error {
	return apierr.Invalid("Invalid %s payload: %v", kind, err)
}
